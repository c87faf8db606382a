// Copyright (C) 2026 ssklykov. All Rights Reserved.

package packet

import (
	"errors"
	"io"
)

// DecodeFrom parses len(dst) samples from s into dst, and returns the number
// of samples decoded. If s holds fewer than len(dst) samples, DecodeFrom
// returns the number decoded along with [io.ErrUnexpectedEOF]. Input following
// the last sample is left unconsumed in s.
func DecodeFrom(s *Scanner, dst []uint16) (int, error) {
	for i := range dst {
		v, err := s.Uint16()
		if errors.Is(err, io.EOF) {
			return i, io.ErrUnexpectedEOF
		} else if err != nil {
			return i, err
		}
		dst[i] = v
	}
	return len(dst), nil
}
