// Copyright (C) 2026 ssklykov. All Rights Reserved.

package packet_test

import (
	"errors"
	"io"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ssklykov/multiport/packet"
)

func TestBuilder(t *testing.T) {
	var b packet.Builder
	b.EndLine() // no effect on an empty builder
	b.Put(0, 1, 65535)
	b.EndLine()
	b.Uint16(42)
	b.Put(7)
	b.EndLine()

	const want = "0 1 65535\n42 7"
	if string(b.Bytes()) != want {
		t.Errorf("Bytes = %q, want %q", b.Bytes(), want)
	}

	s := packet.NewScanner(b.Bytes())
	check(t, "Uint16 1", s.Uint16, 0)
	check(t, "Uint16 2", s.Uint16, 1)
	check(t, "Uint16 3", s.Uint16, 65535)
	check(t, "Field", s.Field, []byte("42"))
	check(t, "Uint16 4", s.Uint16, 7)

	if tok, err := s.Field(); err != io.EOF {
		t.Errorf("Field at end: got (%q, %v), want %v", tok, err, io.EOF)
	}
	if s.Offset() != len(want) {
		t.Errorf("Offset at EOF: got %d, want %d", s.Offset(), len(want))
	}
}

func TestGrow(t *testing.T) {
	var b packet.Builder
	b.Put(1, 2)
	b.Grow(100)
	p := &b.Bytes()[0]
	for range 16 {
		b.Put(65535) // 6 bytes each
	}
	if &b.Bytes()[0] != p {
		t.Error("Builder reallocated after Grow")
	}
	if got, want := len(b.Bytes()), 3+16*6; got != want {
		t.Errorf("Length: got %d, want %d", got, want)
	}
}

func TestScannerWhitespace(t *testing.T) {
	s := packet.NewScanner("  10\t20\r\n\n30   \v\f")
	var got []uint16
	for {
		v, err := s.Uint16()
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Uint16 at offset %d: unexpected error: %v", s.Offset(), err)
		}
		got = append(got, v)
	}
	if diff := cmp.Diff(got, []uint16{10, 20, 30}); diff != "" {
		t.Errorf("Values (-got, +want):\n%s", diff)
	}
}

func TestScannerErrors(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"65536", strconv.ErrRange},
		{"999999999999999999999", strconv.ErrRange},
		{"-1", strconv.ErrSyntax},
		{"+1", strconv.ErrSyntax},
		{"12a", strconv.ErrSyntax},
		{"0x10", strconv.ErrSyntax},
		{"1.5", strconv.ErrSyntax},
	}
	for _, tc := range tests {
		s := packet.NewScanner("5 " + tc.input)
		check(t, "First", s.Uint16, 5)
		v, err := s.Uint16()
		if !errors.Is(err, tc.want) {
			t.Errorf("Uint16(%q): got (%d, %v), want %v", tc.input, v, err, tc.want)
		} else {
			t.Logf("Error OK: %v", err)
		}
	}
}

func TestDecodeFrom(t *testing.T) {
	dst := make([]uint16, 4)
	n, err := packet.DecodeFrom(packet.NewScanner("4 3 2 1 0"), dst)
	if err != nil || n != 4 {
		t.Errorf("DecodeFrom: got (%d, %v), want (4, nil)", n, err)
	}
	if diff := cmp.Diff(dst, []uint16{4, 3, 2, 1}); diff != "" {
		t.Errorf("DecodeFrom (-got, +want):\n%s", diff)
	}

	n, err = packet.DecodeFrom(packet.NewScanner("9 8"), dst)
	if n != 2 || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("DecodeFrom short: got (%d, %v), want (2, %v)", n, err, io.ErrUnexpectedEOF)
	}

	n, err = packet.DecodeFrom(packet.NewScanner("9 x 7 6"), dst)
	if n != 1 || !errors.Is(err, strconv.ErrSyntax) {
		t.Errorf("DecodeFrom invalid: got (%d, %v), want (1, %v)", n, err, strconv.ErrSyntax)
	}

	s := packet.NewScanner("1 2 3 tail")
	n, err = packet.DecodeFrom(s, dst[:3])
	if err != nil || n != 3 {
		t.Errorf("DecodeFrom: got (%d, %v), want (3, nil)", n, err)
	}
	check(t, "Rest", s.Field, []byte("tail"))
}

func check[T any](t *testing.T, label string, f func() (T, error), want T) {
	t.Helper()

	got, err := f()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", label, err)
	} else if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("%s result (-got, +want):\n%s", label, diff)
	}
}
