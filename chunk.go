// Copyright (C) 2026 ssklykov. All Rights Reserved.

package multiport

import (
	"errors"
	"fmt"
	"io"

	"github.com/ssklykov/multiport/packet"
)

// EncodeChunk returns the payload of a chunk carrying the n rows of m
// beginning at row first. Samples are separated by spaces, rows by newlines.
func EncodeChunk(m *Image, first, n int) []byte {
	var b packet.Builder
	b.Grow(n * m.Width * MinSampleSize)
	for y := first; y < first+n; y++ {
		b.Put(m.Row(y)...)
		b.EndLine()
	}
	return b.Bytes()
}

// DecodeChunk parses the payload of a chunk carrying rows rows of width
// samples. The payload must contain exactly rows*width samples. If it does
// not, or if any sample is not a decimal integer in the range 0..65535,
// DecodeChunk reports a *DecodeError.
func DecodeChunk(data []byte, width, rows int) (*Image, error) {
	out := NewImage(width, rows)
	s := packet.NewScanner(data)
	nr, err := packet.DecodeFrom(s, out.Pix)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, decodeError(fmt.Errorf("%w: got %d, want %d", ErrShortChunk, nr, len(out.Pix)))
	} else if err != nil {
		return nil, decodeError(err)
	}
	if tok, err := s.Field(); err != io.EOF {
		return nil, decodeError(fmt.Errorf("%w: at offset %d", ErrTrailingData, s.Offset()-len(tok)))
	}
	return out, nil
}

func decodeError(err error) *DecodeError { return &DecodeError{Endpoint: -1, Chunk: -1, Err: err} }
