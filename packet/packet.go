// Copyright (C) 2026 ssklykov. All Rights Reserved.

// Package packet provides support for encoding and decoding the text payload
// of chunk datagrams. A payload is a sequence of unsigned decimal integers
// separated by ASCII whitespace.
package packet

import (
	"fmt"
	"io"
	"strconv"
)

// A Builder is a buffer that accumulates samples into a payload. The zero
// value is ready for use as an empty builder.
type Builder struct {
	buf []byte
	sep byte // separator to write before the next value, or 0
}

// Uint16 appends the decimal encoding of v to b, preceded by a separator if b
// is not empty.
func (b *Builder) Uint16(v uint16) {
	if b.sep != 0 {
		b.buf = append(b.buf, b.sep)
	}
	b.buf = strconv.AppendUint(b.buf, uint64(v), 10)
	b.sep = ' '
}

// Put appends each of vs to b in order.
func (b *Builder) Put(vs ...uint16) {
	for _, v := range vs {
		b.Uint16(v)
	}
}

// EndLine causes the next value appended to b to be preceded by a newline
// instead of a space. It has no effect on an empty builder.
func (b *Builder) EndLine() {
	if b.sep != 0 {
		b.sep = '\n'
	}
}

// Bytes reports the current contents of the buffer. The builder retains ownership
// of the reported slice, and the caller must not retain or modify its contents
// unless b will no longer be accessed.
func (b *Builder) Bytes() []byte { return b.buf }

// Grow resizes the internal buffer of b if necessary to ensure that at least n
// more bytes can be added without triggering another allocation.
func (b *Builder) Grow(n int) {
	want := len(b.buf) + n
	if cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

// A Scanner reads whitespace-separated values from the contents of a payload.
// The methods of a scanner return [io.EOF] when no further values are
// available.
type Scanner struct {
	rest   []byte
	offset int // of rest from the start of input
}

// NewScanner constructs a [Scanner] that consumes data from input.
// The scanner does not modify the contents of input, but retains slices
// into it, so the caller should ensure it is not modified while the scanner
// is in use.
func NewScanner[Str ~string | ~[]byte](input Str) *Scanner {
	return &Scanner{rest: []byte(input)}
}

// Field returns the next whitespace-delimited token of the input.  The result
// aliases the input, and the caller must not modify its contents.
func (s *Scanner) Field() ([]byte, error) {
	i := 0
	for i < len(s.rest) && isSpace(s.rest[i]) {
		i++
	}
	s.skip(i)
	if len(s.rest) == 0 {
		return nil, io.EOF
	}
	j := 0
	for j < len(s.rest) && !isSpace(s.rest[j]) {
		j++
	}
	out := s.rest[:j]
	s.skip(j)
	return out, nil
}

// Uint16 parses the next token of the input as an unsigned decimal integer
// that fits in 16 bits.
func (s *Scanner) Uint16() (uint16, error) {
	tok, err := s.Field()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(string(tok), 10, 16)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok {
			err = ne.Err
		}
		return 0, fmt.Errorf("offset %d: invalid sample %q: %w", s.offset-len(tok), truncate(tok, 16), err)
	}
	return uint16(v), nil
}

// Offset reports the offset (0-based) of the next unconsumed input byte in s.
func (s *Scanner) Offset() int { return s.offset }

func (s *Scanner) skip(n int) { s.rest = s.rest[n:]; s.offset += n }

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func truncate(tok []byte, n int) string {
	if len(tok) <= n {
		return string(tok)
	}
	return string(tok[:n]) + "..."
}
