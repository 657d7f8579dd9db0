package kernel

import (
	"fmt"

	"github.com/samcharles93/nnaccel/internal/tensor"
)

// Op identifies a kernel family.
type Op uint8

const (
	OpAffine Op = iota + 1
	OpAffineDiagonal
	OpAffineMultiBias
	OpAffineActiveList
	OpPooling
)

func (o Op) String() string {
	switch o {
	case OpAffine:
		return "affine"
	case OpAffineDiagonal:
		return "affine_diagonal"
	case OpAffineMultiBias:
		return "affine_multibias"
	case OpAffineActiveList:
		return "affine_active_list"
	case OpPooling:
		return "pooling"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Signature packs the (input, weight, bias) data modes a kernel is
// specialized for into one comparable key.
type Signature uint32

func packMode(m tensor.DataMode) uint32 {
	return uint32(m.Type)<<4 | m.Size&0xF
}

func unpackMode(v uint32) tensor.DataMode {
	return tensor.DataMode{Type: tensor.DataType(v >> 4 & 0xF), Size: v & 0xF}
}

func NewSignature(input, weight, bias tensor.DataMode) Signature {
	return Signature(packMode(input)<<16 | packMode(weight)<<8 | packMode(bias))
}

func (s Signature) Modes() (input, weight, bias tensor.DataMode) {
	v := uint32(s)
	return unpackMode(v >> 16 & 0xFF), unpackMode(v >> 8 & 0xFF), unpackMode(v & 0xFF)
}

func (s Signature) String() string {
	in, w, b := s.Modes()
	return fmt.Sprintf("in=%s,w=%s,b=%s", in, w, b)
}
