package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/samcharles93/nnaccel/internal/driver"
	"github.com/samcharles93/nnaccel/internal/tensor"
)

// Buffer is a page-aligned host region owned by a Model.
type Buffer struct {
	Name  string
	Mode  tensor.DataMode
	Count uint32
	Data  []byte
}

func newBuffer(spec BufferSpec) (*Buffer, error) {
	mode, err := tensor.ParseDataMode(spec.Type)
	if err != nil {
		return nil, err
	}
	if mode.IsDisabled() {
		return nil, fmt.Errorf("buffers cannot be disabled")
	}
	if spec.Count == 0 {
		return nil, fmt.Errorf("count must be positive")
	}
	size := uint64(spec.Count) * uint64(mode.Size)
	if size > math.MaxUint32 {
		return nil, fmt.Errorf("%d bytes exceed the 32-bit device limit", size)
	}
	data, err := driver.Alloc(int(size))
	if err != nil {
		return nil, err
	}
	b := &Buffer{Name: spec.Name, Mode: mode, Count: spec.Count, Data: data}
	if err := b.fill(spec); err != nil {
		driver.Free(data)
		return nil, err
	}
	return b, nil
}

func (b *Buffer) fill(spec BufferSpec) error {
	if len(spec.Data) > 0 {
		if spec.Fill != nil {
			return fmt.Errorf("data and fill are exclusive")
		}
		want := int(b.Count)
		if b.Mode.Type == tensor.CompoundBias {
			want *= 2
		}
		if len(spec.Data) != want {
			return fmt.Errorf("data has %d values, want %d", len(spec.Data), want)
		}
		for i := range b.Count {
			if b.Mode.Type == tensor.CompoundBias {
				b.set(i, spec.Data[2*i], spec.Data[2*i+1])
			} else {
				b.set(i, spec.Data[i], 0)
			}
		}
		return nil
	}

	f := spec.Fill
	if f == nil {
		return nil
	}
	var gen func(i uint32) int64
	switch strings.ToLower(f.Pattern) {
	case "", "zero":
		return nil
	case "constant":
		gen = func(uint32) int64 { return f.Value }
	case "ramp":
		gen = func(i uint32) int64 { return f.Value + int64(i)*f.Step }
	case "random":
		if f.Max < f.Min {
			return fmt.Errorf("random fill: max %d < min %d", f.Max, f.Min)
		}
		r := rand.New(rand.NewPCG(f.Seed, f.Seed^0x9e3779b97f4a7c15))
		span := uint64(f.Max - f.Min + 1)
		gen = func(uint32) int64 { return f.Min + int64(r.Uint64N(span)) }
	default:
		return fmt.Errorf("unknown fill pattern %q (expected zero, constant, ramp or random)", f.Pattern)
	}
	for i := range b.Count {
		b.set(i, gen(i), 1)
	}
	return nil
}

// set stores element i, clamped to the element type. mult is only used by
// compound buffers.
func (b *Buffer) set(i uint32, v, mult int64) {
	switch b.Mode.Type {
	case tensor.Int8:
		b.Data[i] = byte(int8(clamp(v, math.MinInt8, math.MaxInt8)))
	case tensor.Int16:
		binary.LittleEndian.PutUint16(b.Data[2*i:], uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
	case tensor.Int32:
		binary.LittleEndian.PutUint32(b.Data[4*i:], uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	case tensor.CompoundBias:
		e := b.Data[tensor.CompoundBiasSize*i:]
		binary.LittleEndian.PutUint32(e, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
		e[4] = byte(clamp(mult, 0, math.MaxUint8))
	}
}

// Values decodes the buffer. Compound elements yield their bias.
func (b *Buffer) Values() []int64 {
	out := make([]int64, b.Count)
	for i := range b.Count {
		switch b.Mode.Type {
		case tensor.Int8:
			out[i] = int64(int8(b.Data[i]))
		case tensor.Int16:
			out[i] = int64(int16(binary.LittleEndian.Uint16(b.Data[2*i:])))
		case tensor.Int32:
			out[i] = int64(int32(binary.LittleEndian.Uint32(b.Data[4*i:])))
		case tensor.CompoundBias:
			out[i] = int64(int32(binary.LittleEndian.Uint32(b.Data[tensor.CompoundBiasSize*i:])))
		}
	}
	return out
}

// Zero clears the buffer.
func (b *Buffer) Zero() {
	clear(b.Data)
}

func clamp(v, lo, hi int64) int64 {
	return max(lo, min(v, hi))
}
