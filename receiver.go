// Copyright (C) 2026 ssklykov. All Rights Reserved.

package multiport

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// A receiver collects the chunks assigned to one endpoint.
// It owns its endpoint, and closes it when run returns.
type receiver struct {
	asg     Assignment
	width   int
	timeout time.Duration
	ep      Endpoint
	addr    string
	log     zerolog.Logger
}

// run receives and decodes the chunks of r.asg, and returns the resulting rows.
// It does not retry: the first timeout or malformed chunk ends the run.
func (r *receiver) run() (*Image, error) {
	defer r.ep.Close()
	rootMetrics.endpointsActive.Add(1)
	defer rootMetrics.endpointsActive.Add(-1)

	start := time.Now()
	buf := NewImage(r.width, r.asg.Rows)
	for i := range r.asg.Chunks {
		data, err := r.ep.Recv()
		if errors.Is(err, os.ErrDeadlineExceeded) {
			rootMetrics.recvTimeout.Add(1)
			return nil, &ReceiveTimeoutError{
				Endpoint: r.asg.Endpoint,
				Addr:     r.addr,
				Chunk:    i,
				Chunks:   r.asg.Chunks,
				Wait:     r.timeout,
			}
		} else if err != nil {
			return nil, fmt.Errorf("endpoint %d (%s): receive chunk %d: %w", r.asg.Endpoint, r.addr, i, err)
		}
		rootMetrics.chunkRecv.Add(1)
		rootMetrics.bytesRecv.Add(int64(len(data)))

		n := r.asg.ChunkRows(i)
		chunk, err := DecodeChunk(data, r.width, n)
		if err != nil {
			rootMetrics.decodeErr.Add(1)
			var de *DecodeError
			if errors.As(err, &de) {
				de.Endpoint, de.Chunk = r.asg.Endpoint, i
			}
			return nil, err
		}
		copy(buf.Rows(r.asg.ChunkOffset(i), n), chunk.Pix)
		r.log.Trace().Int("endpoint", r.asg.Endpoint).Int("chunk", i).Int("rows", n).
			Int("bytes", len(data)).Msg("chunk received")
	}
	r.log.Debug().Int("endpoint", r.asg.Endpoint).Str("addr", r.addr).
		Int("rows", buf.Height).Dur("elapsed", time.Since(start)).Msg("endpoint complete")
	return buf, nil
}
