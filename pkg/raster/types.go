package raster

import (
	"fmt"
	"strconv"
	"strings"
)

// Buffer holds a decoded pixel raster. Pixels are stored row-major, Depth
// bytes per pixel. The warp engine treats a pixel as an opaque Depth-byte
// tuple; channel order is whatever the codec produced.
type Buffer struct {
	Pix    []byte
	Width  int
	Height int
	Depth  int // channels: 1=grayscale, 3=RGB, 4=RGBA
}

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (b *Buffer) PixOffset(x, y int) int {
	return (y*b.Width + x) * b.Depth
}

// At returns the Depth-byte slice for the pixel at (x, y). Coordinates are
// checked against the buffer bounds; out-of-range access panics rather than
// aliasing a neighbouring row.
func (b *Buffer) At(x, y int) []byte {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		panic(fmt.Sprintf("raster: pixel (%d,%d) outside %dx%d buffer", x, y, b.Width, b.Height))
	}
	i := b.PixOffset(x, y)
	return b.Pix[i : i+b.Depth]
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	pix := make([]byte, len(b.Pix))
	copy(pix, b.Pix)
	return &Buffer{
		Pix:    pix,
		Width:  b.Width,
		Height: b.Height,
		Depth:  b.Depth,
	}
}

// Rect is an axis-aligned region of interest with half-open extents:
// x1 <= x < x2, y1 <= y < y2.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Dx returns the region width.
func (r Rect) Dx() int { return r.X2 - r.X1 }

// Dy returns the region height.
func (r Rect) Dy() int { return r.Y2 - r.Y1 }

// Within reports whether the region is non-empty and lies inside a
// width x height raster.
func (r Rect) Within(width, height int) bool {
	return r.X1 >= 0 && r.Y1 >= 0 &&
		r.X1 < r.X2 && r.Y1 < r.Y2 &&
		r.X2 <= width && r.Y2 <= height
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}

// ParseRect parses a region given as "x1,y1,x2,y2".
func ParseRect(s string) (Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("region must be in format 'x1,y1,x2,y2'")
	}

	vals := make([]int, 4)
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Rect{}, fmt.Errorf("invalid region coordinate %q: %v", part, err)
		}
		vals[i] = v
	}

	return Rect{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]}, nil
}
