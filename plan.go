// Copyright (C) 2026 ssklykov. All Rights Reserved.

package multiport

import "fmt"

const (
	// MaxDatagram is the largest payload carried by a single UDP datagram
	// over IPv4.
	MaxDatagram = 65507

	// MinSampleSize is the worst-case size in bytes of one encoded sample:
	// five decimal digits ("65535") and a separator.
	MinSampleSize = 6

	// MaxSamples is the largest number of samples in an image that can be
	// planned for transfer.
	MaxSamples = 1 << 28
)

// Geometry gives the dimensions of an image in samples.
type Geometry struct {
	Width  int // samples per row
	Height int // number of rows
}

func (g Geometry) String() string { return fmt.Sprintf("%dx%d", g.Width, g.Height) }

func (g Geometry) check() error {
	if g.Width <= 0 || g.Height <= 0 {
		return configErrorf("invalid geometry %v: width and height must be positive", g)
	}
	if g.Width > MaxSamples || g.Height > MaxSamples/g.Width {
		return configErrorf("invalid geometry %v: more than %d samples", g, MaxSamples)
	}
	return nil
}

// A Plan describes how the rows of an image are divided into chunks, and how
// the chunks are distributed among endpoints. A Plan must not be modified once
// it has been constructed.
type Plan struct {
	Geometry

	Endpoints         int // number of endpoints
	DatagramLimit     int // maximum payload size per datagram; 0 if unspecified
	RowsPerChunk      int // rows carried by a full chunk
	Chunks            int // total number of chunks, including a partial one
	RemainderRows     int // rows in the final partial chunk, or 0
	ChunksPerEndpoint int // chunks assigned to every endpoint but the last
	RemainderChunks   int // additional chunks assigned to the last endpoint
}

// RowsPerChunk reports how many whole rows of width samples fit into a
// datagram of limit bytes, when each encoded sample is allotted sampleSize
// bytes. The result is 0 if not even one row fits.
func RowsPerChunk(width, limit, sampleSize int) int {
	if width <= 0 || sampleSize <= 0 || limit <= 0 {
		return 0
	}
	return limit / sampleSize / width
}

// NewPlan constructs a plan for an image of geometry g sent through the
// specified number of endpoints, in datagrams of at most limit bytes.  The
// sampleSize is the number of bytes allotted to each encoded sample, and must
// be at least MinSampleSize.
//
// NewPlan reports a *ConfigError if the combination of parameters cannot be
// satisfied.
func NewPlan(g Geometry, limit, endpoints, sampleSize int) (*Plan, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	if sampleSize < MinSampleSize {
		return nil, configErrorf("sample size %d is less than the minimum %d", sampleSize, MinSampleSize)
	}
	if limit > MaxDatagram {
		return nil, configErrorf("datagram limit %d exceeds the maximum %d", limit, MaxDatagram)
	}
	rpc := RowsPerChunk(g.Width, limit, sampleSize)
	if rpc < 1 {
		return nil, configErrorf("datagram limit %d cannot hold one row of %d samples (%d bytes each)",
			limit, g.Width, sampleSize)
	}
	p, err := Partition(g, rpc, endpoints)
	if err != nil {
		return nil, err
	}
	p.DatagramLimit = limit
	return p, nil
}

// Partition constructs a plan for an image of geometry g sent through the
// specified number of endpoints, with rowsPerChunk rows per full chunk.  The
// resulting plan does not specify a datagram limit.
//
// Partition reports a *ConfigError if the combination of parameters cannot be
// satisfied. In particular, there must be at least as many chunks as
// endpoints.
func Partition(g Geometry, rowsPerChunk, endpoints int) (*Plan, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	if rowsPerChunk < 1 {
		return nil, configErrorf("rows per chunk must be positive (got %d)", rowsPerChunk)
	}
	if endpoints < 1 {
		return nil, configErrorf("endpoint count must be positive (got %d)", endpoints)
	}

	full := g.Height / rowsPerChunk
	rem := g.Height - full*rowsPerChunk
	chunks := full
	if rem > 0 {
		chunks++
	}
	if endpoints > chunks {
		return nil, configErrorf("%d endpoints exceed the %d chunks of a %v image", endpoints, chunks, g)
	}

	per := chunks / endpoints
	return &Plan{
		Geometry:          g,
		Endpoints:         endpoints,
		RowsPerChunk:      rowsPerChunk,
		Chunks:            chunks,
		RemainderRows:     rem,
		ChunksPerEndpoint: per,
		RemainderChunks:   chunks - per*endpoints,
	}, nil
}

// Assignment reports the share of the image assigned to endpoint i.
// It panics if i is not in the range [0, p.Endpoints).
func (p *Plan) Assignment(i int) Assignment {
	if i < 0 || i >= p.Endpoints {
		panic(fmt.Sprintf("endpoint %d out of range [0, %d)", i, p.Endpoints))
	}
	a := Assignment{
		Endpoint:      i,
		FirstRow:      i * p.ChunksPerEndpoint * p.RowsPerChunk,
		Chunks:        p.ChunksPerEndpoint,
		RowsPerChunk:  p.RowsPerChunk,
		LastChunkRows: p.RowsPerChunk,
	}
	if i == p.Endpoints-1 {
		a.Chunks += p.RemainderChunks
		if p.RemainderRows > 0 {
			a.LastChunkRows = p.RemainderRows
		}
	}
	a.Rows = (a.Chunks-1)*p.RowsPerChunk + a.LastChunkRows
	return a
}

// Assignments reports the assignments of all the endpoints of p, in order.
func (p *Plan) Assignments() []Assignment {
	out := make([]Assignment, p.Endpoints)
	for i := range out {
		out[i] = p.Assignment(i)
	}
	return out
}

// String returns a human-friendly rendering of the plan.
func (p *Plan) String() string {
	return fmt.Sprintf("Plan(%v, endpoints=%d, rows/chunk=%d, chunks=%d, remainder rows=%d, chunks/endpoint=%d+%d)",
		p.Geometry, p.Endpoints, p.RowsPerChunk, p.Chunks, p.RemainderRows,
		p.ChunksPerEndpoint, p.RemainderChunks)
}

// An Assignment is the contiguous range of rows assigned to one endpoint.
type Assignment struct {
	Endpoint      int // endpoint index, 0-based
	FirstRow      int // first image row assigned to the endpoint
	Rows          int // number of rows assigned to the endpoint
	Chunks        int // number of chunks the endpoint receives
	RowsPerChunk  int // rows in every chunk but the last
	LastChunkRows int // rows in the last chunk
}

// ChunkRows reports the number of rows carried by chunk i of the assignment.
func (a Assignment) ChunkRows(i int) int {
	if i == a.Chunks-1 {
		return a.LastChunkRows
	}
	return a.RowsPerChunk
}

// ChunkOffset reports the first row of chunk i, relative to a.FirstRow.
func (a Assignment) ChunkOffset(i int) int { return i * a.RowsPerChunk }
