// Copyright (C) 2026 ssklykov. All Rights Reserved.

package multiport

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
)

// An Image is a row-major matrix of unsigned 16-bit samples.
type Image struct {
	Width  int
	Height int
	Pix    []uint16 // len(Pix) == Width*Height
}

// NewImage allocates a zero-valued image of the given dimensions.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]uint16, width*height)}
}

// Geometry reports the dimensions of m.
func (m *Image) Geometry() Geometry { return Geometry{Width: m.Width, Height: m.Height} }

// Row returns the samples of row y. The result aliases m.
func (m *Image) Row(y int) []uint16 { return m.Pix[y*m.Width : (y+1)*m.Width] }

// Rows returns the samples of the n rows beginning at row y. The result
// aliases m.
func (m *Image) Rows(y, n int) []uint16 { return m.Pix[y*m.Width : (y+n)*m.Width] }

// Gray16 converts m into a 16-bit grayscale image.
func (m *Image) Gray16() *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for y := range m.Height {
		line := out.Pix[y*out.Stride:]
		for x, v := range m.Row(y) {
			binary.BigEndian.PutUint16(line[2*x:], v)
		}
	}
	return out
}

// FromImage converts src into an image of 16-bit samples, using the gray
// intensity of each pixel.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy())
	if g, ok := src.(*image.Gray16); ok {
		for y := range out.Height {
			line := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := range out.Width {
				out.Pix[y*out.Width+x] = binary.BigEndian.Uint16(line[2*x:])
			}
		}
		return out
	}
	for y := range out.Height {
		for x := range out.Width {
			c := color.Gray16Model.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			out.Pix[y*out.Width+x] = c.Y
		}
	}
	return out
}

// Merge concatenates the rows of parts, in order, into a single image of
// geometry g. Every part must have width g.Width, and the parts together must
// have exactly g.Height rows; otherwise Merge reports a *ConsistencyError.
func Merge(g Geometry, parts []*Image) (*Image, error) {
	out := NewImage(g.Width, g.Height)
	var cur int
	for i, p := range parts {
		if p == nil {
			return nil, &ConsistencyError{Rows: cur, Want: g.Height, Msg: fmt.Sprintf("part %d is missing", i)}
		} else if p.Width != g.Width {
			return nil, &ConsistencyError{Rows: cur, Want: g.Height,
				Msg: fmt.Sprintf("part %d has width %d, want %d", i, p.Width, g.Width)}
		} else if cur+p.Height > g.Height {
			return nil, &ConsistencyError{Rows: cur + p.Height, Want: g.Height,
				Msg: fmt.Sprintf("part %d overflows the image", i)}
		}
		copy(out.Rows(cur, p.Height), p.Pix)
		cur += p.Height
	}
	if cur != g.Height {
		return nil, &ConsistencyError{Rows: cur, Want: g.Height}
	}
	return out, nil
}
