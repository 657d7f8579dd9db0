package tensor

import (
	"unsafe"

	"github.com/samcharles93/nnaccel/internal/status"
)

// ValidateFunc checks a shape and mode against a capability entry.
type ValidateFunc func(Shape, DataMode) error

// Tensor is a validated, read-only view over a caller-owned host buffer.
// The buffer's lifetime belongs to whoever allocated it, typically the model.
type Tensor struct {
	shape Shape
	mode  DataMode
	buf   []byte
}

// New validates shape and mode with validate, then checks that buf holds
// every element and is aligned for the element size. Disabled tensors carry
// no buffer. A nil validate skips capability checks.
func New(shape Shape, mode DataMode, buf []byte, validate ValidateFunc) (*Tensor, error) {
	if validate != nil {
		if err := validate(shape, mode); err != nil {
			return nil, err
		}
	}
	if mode.IsDisabled() {
		return &Tensor{shape: shape, mode: mode}, nil
	}
	if shape.Rank() == 0 {
		return nil, status.New(status.ShapeInvalid, "tensor has no dimensions")
	}
	if buf == nil {
		return nil, status.New(status.NullArgumentNotAllowed, "tensor buffer is nil")
	}
	need := shape.Count() * uint64(mode.Size)
	if uint64(len(buf)) < need {
		return nil, status.New(status.MemorySizeInvalid, "buffer too small").WithExpected(need, len(buf))
	}
	if align := elementAlignment(mode); align > 1 && uintptr(unsafe.Pointer(&buf[0]))%align != 0 {
		return nil, status.Newf(status.MemoryAlignmentInvalid, "buffer not aligned to %d bytes", align)
	}
	return &Tensor{shape: shape, mode: mode, buf: buf[:need:need]}, nil
}

func elementAlignment(m DataMode) uintptr {
	switch m.Type {
	case Int16:
		return 2
	case Int32, CompoundBias:
		return 4
	default:
		return 1
	}
}

func (t *Tensor) Shape() Shape {
	return t.shape
}

func (t *Tensor) Mode() DataMode {
	return t.mode
}

func (t *Tensor) ElementCount() uint64 {
	return t.shape.Count()
}

func (t *Tensor) At(d Dim) (uint32, error) {
	return t.shape.At(d)
}

// Bytes returns the raw buffer for kernel and device interop.
func (t *Tensor) Bytes() []byte {
	return t.buf
}

// Pointer returns the buffer base address, or nil for disabled tensors.
func (t *Tensor) Pointer() unsafe.Pointer {
	if len(t.buf) == 0 {
		return nil
	}
	return unsafe.Pointer(&t.buf[0])
}

// Typed views share memory with the buffer and assume a little-endian host,
// which matches the accelerator's wire format.

func (t *Tensor) Int8s() []int8 {
	return Int8View(t.buf)
}

func (t *Tensor) Int16s() []int16 {
	return Int16View(t.buf)
}

func (t *Tensor) Int32s() []int32 {
	return Int32View(t.buf)
}

func Int8View(b []byte) []int8 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(&b[0])), len(b))
}

func Int16View(b []byte) []int16 {
	if len(b) < 2 {
		return nil
	}
	return unsafe.Slice((*int16)(unsafe.Pointer(&b[0])), len(b)/2)
}

func Int32View(b []byte) []int32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Bytes16 and Bytes32 reinterpret typed slices as raw bytes, the reverse of
// the views above.
func Bytes16(v []int16) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*2)
}

func Bytes32(v []int32) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}

func Bytes8(v []int8) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v))
}
