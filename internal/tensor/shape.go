package tensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/samcharles93/nnaccel/internal/status"
)

// Dim names one axis of a Shape.
type Dim byte

const (
	DimN Dim = 'N' // batch
	DimH Dim = 'H' // rows, elements
	DimW Dim = 'W' // columns, vectors
	DimD Dim = 'D' // depth, filters
	DimG Dim = 'G' // group
)

func (d Dim) String() string {
	return string(rune(d))
}

func (d Dim) valid() bool {
	switch d {
	case DimN, DimH, DimW, DimD, DimG:
		return true
	default:
		return false
	}
}

// Shape is an ordered set of named dimensions with extents >= 1.
// The zero Shape has rank 0 and a count of 0.
type Shape struct {
	dims    []Dim
	extents []uint32
}

// NewShape builds a shape from a layout string such as "HW" and one extent per
// layout letter.
func NewShape(layout string, extents ...uint32) (Shape, error) {
	if len(layout) != len(extents) {
		return Shape{}, status.Newf(status.ShapeInvalid,
			"layout %q has %d dimensions but %d extents were given", layout, len(layout), len(extents))
	}
	s := Shape{
		dims:    make([]Dim, len(layout)),
		extents: make([]uint32, len(extents)),
	}
	for i := range len(layout) {
		d := Dim(layout[i])
		if !d.valid() {
			return Shape{}, status.Newf(status.ShapeInvalid, "unknown dimension %q in layout %q", layout[i], layout)
		}
		if strings.IndexByte(layout[:i], layout[i]) >= 0 {
			return Shape{}, status.Newf(status.ShapeInvalid, "dimension %s repeated in layout %q", d, layout)
		}
		if extents[i] == 0 {
			return Shape{}, status.Newf(status.ShapeInvalid, "dimension %s has zero extent", d)
		}
		s.dims[i] = d
		s.extents[i] = extents[i]
	}
	return s, nil
}

// MustShape is NewShape for static shapes known to be valid.
func MustShape(layout string, extents ...uint32) Shape {
	s, err := NewShape(layout, extents...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Shape) Rank() int {
	return len(s.dims)
}

func (s Shape) Layout() string {
	b := make([]byte, len(s.dims))
	for i, d := range s.dims {
		b[i] = byte(d)
	}
	return string(b)
}

func (s Shape) Dims() []Dim {
	out := make([]Dim, len(s.dims))
	copy(out, s.dims)
	return out
}

func (s Shape) Extents() []uint32 {
	out := make([]uint32, len(s.extents))
	copy(out, s.extents)
	return out
}

func (s Shape) Has(d Dim) bool {
	for _, v := range s.dims {
		if v == d {
			return true
		}
	}
	return false
}

// At returns the extent of d.
func (s Shape) At(d Dim) (uint32, error) {
	for i, v := range s.dims {
		if v == d {
			return s.extents[i], nil
		}
	}
	return 0, status.Newf(status.DimensionNotPresent, "dimension %s not in layout %q", d, s.Layout())
}

// Count is the total number of elements.
func (s Shape) Count() uint64 {
	if len(s.extents) == 0 {
		return 0
	}
	n := uint64(1)
	for _, e := range s.extents {
		n *= uint64(e)
	}
	return n
}

// Count32 is Count for hardware formats that carry a 32-bit element count.
func (s Shape) Count32() (uint32, error) {
	n := s.Count()
	if n > math.MaxUint32 {
		return 0, status.Newf(status.ShapeInvalid, "element count %d overflows 32 bits", n)
	}
	return uint32(n), nil
}

func (s Shape) Equal(o Shape) bool {
	if len(s.dims) != len(o.dims) {
		return false
	}
	for i := range s.dims {
		if s.dims[i] != o.dims[i] || s.extents[i] != o.extents[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s.dims))
	for i, d := range s.dims {
		parts[i] = fmt.Sprintf("%s:%d", d, s.extents[i])
	}
	return "{" + strings.Join(parts, " ") + "}"
}
