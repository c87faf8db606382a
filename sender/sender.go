// Copyright (C) 2026 ssklykov. All Rights Reserved.

// Package sender implements the client side of a multiport transfer.
package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
	"github.com/ssklykov/multiport"
	"github.com/ssklykov/multiport/dispatch"
)

const (
	// DefaultTimeout is the default time to wait for a control reply.
	DefaultTimeout = 5 * time.Second

	// DefaultTransferTimeout is the default time to wait for the completion
	// of a transfer after all chunks are sent.
	DefaultTransferTimeout = 10 * time.Second
)

// Options configure a [Client].
type Options struct {
	// Host is the host to which chunks are sent (default: the host of the
	// control address).
	Host string

	// Timeout bounds the wait for each control reply (default: DefaultTimeout).
	Timeout time.Duration

	// TransferTimeout bounds the wait for the completion of a transfer once
	// all its chunks are sent (default: DefaultTransferTimeout).
	TransferTimeout time.Duration

	// Interval, if positive, is the delay between successive datagrams sent
	// to the same endpoint.
	Interval time.Duration

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zerolog.Logger
}

// A Client sends commands and images to a multiport server.
type Client struct {
	control string
	opts    Options
	log     zerolog.Logger
}

// New constructs a client for the server whose control channel is at the
// given address.
func New(control string, opts Options) *Client {
	if opts.Host == "" {
		if host, _, err := net.SplitHostPort(control); err == nil {
			opts.Host = host
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = DefaultTransferTimeout
	}
	c := &Client{control: control, opts: opts, log: zerolog.Nop()}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}
	return c
}

// RemoteError reports a failure reply from the server.
type RemoteError struct {
	Reason string
}

// Error satisfies the error interface.
func (r *RemoteError) Error() string { return "server: " + r.Reason }

// A Result summarizes a completed transfer.
type Result struct {
	Plan    *multiport.Plan // the plan announced by the server
	Chunks  int             // number of chunks sent
	Bytes   int64           // number of payload bytes sent
	Elapsed time.Duration   // from the request to the acknowledgement
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.command(ctx, dispatch.CmdPing, dispatch.ReplyEcho)
}

// Quit asks the server to stop.
func (c *Client) Quit(ctx context.Context) error {
	return c.command(ctx, dispatch.CmdQuit, dispatch.ReplyQuit)
}

func (c *Client) command(ctx context.Context, cmd, want string) error {
	conn, done, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer done()
	if err := c.send(conn, cmd); err != nil {
		return err
	}
	got, err := c.recv(conn, c.opts.Timeout)
	if err != nil {
		return err
	} else if got != want {
		return fmt.Errorf("%s: unexpected reply %q", cmd, got)
	}
	return nil
}

// Send transfers img to the server through the specified number of
// endpoints. It blocks until the server acknowledges the transfer, reports a
// failure, or a timeout elapses. If the server reports a failure, the error
// has concrete type *RemoteError.
func (c *Client) Send(ctx context.Context, img *multiport.Image, endpoints int) (*Result, error) {
	start := time.Now()
	conn, done, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	for _, msg := range []string{
		dispatch.CmdTransfer,
		strconv.Itoa(img.Width),
		strconv.Itoa(img.Height),
		strconv.Itoa(endpoints),
	} {
		if err := c.send(conn, msg); err != nil {
			return nil, err
		}
	}

	reply, err := c.recv(conn, c.opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("await plan: %w", err)
	}
	ann, err := dispatch.ParseAnnouncement(reply)
	if err != nil {
		return nil, err
	} else if ann.Geometry != img.Geometry() || ann.Endpoints != endpoints {
		return nil, fmt.Errorf("announced plan %v with %d endpoints does not match request %v with %d endpoints",
			ann.Geometry, ann.Endpoints, img.Geometry(), endpoints)
	}
	plan, err := ann.Plan()
	if err != nil {
		return nil, fmt.Errorf("announced plan: %w", err)
	}
	c.log.Debug().Stringer("plan", plan).Ints("ports", ann.Ports).Msg("plan received")

	res := &Result{Plan: plan}
	var nchunks, nbytes atomic.Int64
	g := taskgroup.New(nil)
	for i, a := range plan.Assignments() {
		addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(ann.Ports[i]))
		g.Go(func() error {
			nc, nb, err := c.sendChunks(ctx, addr, img, a, plan.DatagramLimit)
			nchunks.Add(int64(nc))
			nbytes.Add(nb)
			if err != nil {
				return fmt.Errorf("endpoint %d (%s): %w", a.Endpoint, addr, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Chunks, res.Bytes = int(nchunks.Load()), nbytes.Load()

	reply, err = c.recv(conn, c.opts.TransferTimeout)
	if err != nil {
		return nil, fmt.Errorf("await completion: %w", err)
	} else if reply != dispatch.ReplyTransferred {
		return nil, fmt.Errorf("unexpected reply %q", reply)
	}
	res.Elapsed = time.Since(start)
	c.log.Info().Stringer("geometry", plan.Geometry).Int("endpoints", endpoints).
		Int("chunks", res.Chunks).Int64("bytes", res.Bytes).Dur("elapsed", res.Elapsed).
		Msg("transfer complete")
	return res, nil
}

// sendChunks sends the chunks of a to the endpoint at addr, and reports the
// number of chunks and bytes sent.
func (c *Client) sendChunks(ctx context.Context, addr string, img *multiport.Image, a multiport.Assignment, limit int) (int, int64, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()

	var nb int64
	for i := range a.Chunks {
		if err := ctx.Err(); err != nil {
			return i, nb, err
		}
		data := multiport.EncodeChunk(img, a.FirstRow+a.ChunkOffset(i), a.ChunkRows(i))
		if limit > 0 && len(data) > limit {
			return i, nb, fmt.Errorf("chunk %d is %d bytes, exceeding the limit of %d", i, len(data), limit)
		}
		if _, err := conn.Write(data); err != nil {
			return i, nb, fmt.Errorf("chunk %d: %w", i, err)
		}
		nb += int64(len(data))
		if c.opts.Interval > 0 && i+1 < a.Chunks {
			time.Sleep(c.opts.Interval)
		}
	}
	c.log.Debug().Int("endpoint", a.Endpoint).Str("addr", addr).Int("chunks", a.Chunks).
		Int64("bytes", nb).Msg("chunks sent")
	return a.Chunks, nb, nil
}

// dial connects to the control address. The returned function must be called
// to release the connection. The connection is closed early if ctx ends.
func (c *Client) dial(ctx context.Context) (net.Conn, func(), error) {
	conn, err := net.Dial("udp", c.control)
	if err != nil {
		return nil, nil, err
	}
	ok := make(chan struct{})
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-ok:
		}
		return nil
	})
	return conn, func() { close(ok); conn.Close() }, nil
}

func (c *Client) send(conn net.Conn, msg string) error {
	if _, err := conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("send %q: %w", msg, err)
	}
	return nil
}

// recv reads a reply from conn within timeout. A failure reply is reported as
// a *RemoteError.
func (c *Client) recv(conn net.Conn, timeout time.Duration) (string, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, dispatch.MaxCommandLen)
	nr, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return "", context.Canceled
		}
		return "", err
	}
	reply := string(buf[:nr])
	if reason, ok := strings.CutPrefix(reply, dispatch.ReplyFailedPrefix); ok {
		return "", &RemoteError{Reason: reason}
	}
	return reply, nil
}
