package tensor

import (
	"errors"
	"math"
	"testing"

	"github.com/samcharles93/nnaccel/internal/status"
)

func TestNewShape(t *testing.T) {
	t.Parallel()

	s, err := NewShape("HW", 16, 4)
	if err != nil {
		t.Fatalf("NewShape: %v", err)
	}
	if s.Layout() != "HW" || s.Rank() != 2 || s.Count() != 64 {
		t.Fatalf("unexpected shape %v", s)
	}
	h, err := s.At(DimH)
	if err != nil || h != 16 {
		t.Fatalf("At(H) = %d, %v", h, err)
	}
	if _, err := s.At(DimD); !errors.Is(err, status.DimensionNotPresent) {
		t.Fatalf("At(D): expected DimensionNotPresent, got %v", err)
	}
}

func TestNewShapeRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		layout  string
		extents []uint32
	}{
		{"count mismatch", "HW", []uint32{1}},
		{"unknown dim", "HX", []uint32{1, 1}},
		{"repeated dim", "HH", []uint32{1, 1}},
		{"zero extent", "HW", []uint32{4, 0}},
	}
	for _, tc := range tests {
		if _, err := NewShape(tc.layout, tc.extents...); !errors.Is(err, status.ShapeInvalid) {
			t.Errorf("%s: expected ShapeInvalid, got %v", tc.name, err)
		}
	}
}

func TestCount32Overflow(t *testing.T) {
	t.Parallel()

	s := MustShape("HWD", math.MaxUint16+1, math.MaxUint16+1, 2)
	if _, err := s.Count32(); !errors.Is(err, status.ShapeInvalid) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	n, err := MustShape("HW", 8, 8).Count32()
	if err != nil || n != 64 {
		t.Fatalf("Count32 = %d, %v", n, err)
	}
}

func TestParseDataMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want DataMode
	}{
		{"int8", ModeInt8},
		{"INT16", ModeInt16},
		{"int32", ModeInt32},
		{"compound", ModeCompoundBias},
		{"disabled", ModeDisabled},
	}
	for _, tc := range tests {
		got, err := ParseDataMode(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseDataMode(%q) = %v, %v", tc.in, got, err)
		}
	}
	if _, err := ParseDataMode("float32"); err == nil {
		t.Fatal("expected error for float32")
	}
}

func TestNewTensor(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 64)
	tn, err := New(MustShape("HW", 8, 4), ModeInt16, buf, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tn.ElementCount() != 32 || len(tn.Bytes()) != 64 || len(tn.Int16s()) != 32 {
		t.Fatalf("unexpected view sizes")
	}
	tn.Int16s()[3] = -7
	if Int16View(buf)[3] != -7 {
		t.Fatal("view does not alias the caller buffer")
	}
	if tn.Pointer() == nil {
		t.Fatal("expected non-nil pointer")
	}
}

func TestNewTensorValidation(t *testing.T) {
	t.Parallel()

	shape := MustShape("H", 8)
	if _, err := New(shape, ModeInt32, make([]byte, 31), nil); !errors.Is(err, status.MemorySizeInvalid) {
		t.Fatalf("short buffer: got %v", err)
	}
	if _, err := New(shape, ModeInt32, nil, nil); !errors.Is(err, status.NullArgumentNotAllowed) {
		t.Fatalf("nil buffer: got %v", err)
	}
	raw := make([]byte, 40)
	if _, err := New(shape, ModeInt32, raw[1:], nil); !errors.Is(err, status.MemoryAlignmentInvalid) {
		t.Fatalf("misaligned buffer: got %v", err)
	}

	reject := func(Shape, DataMode) error { return status.XnnErrorBiasBytes }
	if _, err := New(shape, ModeInt32, make([]byte, 32), reject); !errors.Is(err, status.XnnErrorBiasBytes) {
		t.Fatalf("validator error not propagated: %v", err)
	}

	disabled, err := New(shape, ModeDisabled, nil, nil)
	if err != nil {
		t.Fatalf("disabled tensor: %v", err)
	}
	if disabled.Pointer() != nil || disabled.Bytes() != nil {
		t.Fatal("disabled tensor should carry no buffer")
	}
}

func TestByteViewsRoundTrip(t *testing.T) {
	t.Parallel()

	v := []int32{1, -2, 3}
	if got := Int32View(Bytes32(v)); got[1] != -2 || len(got) != 3 {
		t.Fatalf("int32 round trip: %v", got)
	}
	w := []int16{5, -6}
	if got := Int16View(Bytes16(w)); got[1] != -6 {
		t.Fatalf("int16 round trip: %v", got)
	}
	if Int16View(nil) != nil || Int32View([]byte{1}) != nil {
		t.Fatal("short buffers should yield nil views")
	}
}
