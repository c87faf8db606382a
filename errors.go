// Copyright (C) 2026 ssklykov. All Rights Reserved.

package multiport

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	// ErrShortChunk is reported by DecodeChunk when a payload holds fewer
	// samples than its rows require.
	ErrShortChunk = errors.New("too few samples in chunk")

	// ErrTrailingData is reported by DecodeChunk when a payload holds more
	// samples than its rows require.
	ErrTrailingData = errors.New("extra samples in chunk")
)

// ConfigError reports an invalid combination of geometry, datagram limit,
// endpoint count, or sample size. It is detected before any endpoint is bound.
type ConfigError struct {
	Message string
}

func configErrorf(msg string, args ...any) error {
	return &ConfigError{Message: fmt.Sprintf(msg, args...)}
}

// Error satisfies the error interface.
func (c *ConfigError) Error() string { return "invalid transfer configuration: " + c.Message }

// ReceiveTimeoutError reports that an endpoint did not receive its next chunk
// within the receive timeout.
type ReceiveTimeoutError struct {
	Endpoint int           // endpoint index
	Addr     string        // local address of the endpoint
	Chunk    int           // index of the chunk being awaited
	Chunks   int           // number of chunks assigned to the endpoint
	Wait     time.Duration // the receive timeout
}

// Error satisfies the error interface.
func (r *ReceiveTimeoutError) Error() string {
	return fmt.Sprintf("endpoint %d (%s): no chunk %d of %d within %v",
		r.Endpoint, r.Addr, r.Chunk+1, r.Chunks, r.Wait)
}

// Timeout reports true. It satisfies the timeout method of [net.Error].
func (*ReceiveTimeoutError) Timeout() bool { return true }

// Unwrap returns [os.ErrDeadlineExceeded].
func (*ReceiveTimeoutError) Unwrap() error { return os.ErrDeadlineExceeded }

// DecodeError reports a malformed chunk payload.
type DecodeError struct {
	Endpoint int // endpoint index, or -1 if unknown
	Chunk    int // chunk index within the endpoint, or -1 if unknown
	Err      error
}

// Error satisfies the error interface.
func (d *DecodeError) Error() string {
	var sb strings.Builder
	sb.WriteString("decode chunk")
	if d.Chunk >= 0 {
		fmt.Fprintf(&sb, " %d", d.Chunk)
	}
	if d.Endpoint >= 0 {
		fmt.Fprintf(&sb, " of endpoint %d", d.Endpoint)
	}
	sb.WriteString(": ")
	sb.WriteString(d.Err.Error())
	return sb.String()
}

// Unwrap reports the underlying error of d.
func (d *DecodeError) Unwrap() error { return d.Err }

// ConsistencyError reports that the merged row count of a transfer does not
// match its geometry. It indicates a disagreement between the plan and the
// receivers, and never occurs in correct operation.
type ConsistencyError struct {
	Rows int // rows merged (or attempted) so far
	Want int // rows required by the geometry
	Msg  string
}

// Error satisfies the error interface.
func (c *ConsistencyError) Error() string {
	if c.Msg != "" {
		return fmt.Sprintf("inconsistent merge at row %d of %d: %s", c.Rows, c.Want, c.Msg)
	}
	return fmt.Sprintf("inconsistent merge: got %d rows, want %d", c.Rows, c.Want)
}

// TransferError is the concrete type of errors reported by [Coordinator.Run]
// for failures after planning. Err is the first failure observed among the
// endpoints, or a merge failure (Endpoint == -1).
type TransferError struct {
	Endpoint int    // index of the failed endpoint, or -1
	Addr     string // address of the failed endpoint, if known
	Err      error
}

// Error satisfies the error interface.
func (t *TransferError) Error() string { return "transfer failed: " + t.Err.Error() }

// Unwrap reports the underlying error of t.
func (t *TransferError) Unwrap() error { return t.Err }
