package tensor

import (
	"fmt"
	"strings"
)

// DataType is the element encoding of a tensor.
type DataType uint8

const (
	Disabled DataType = iota
	Int8
	Int16
	Int32
	CompoundBias
)

func (t DataType) String() string {
	switch t {
	case Disabled:
		return "disabled"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case CompoundBias:
		return "compound"
	default:
		return fmt.Sprintf("datatype(%d)", uint8(t))
	}
}

// DataMode is the on-wire representation of one element.
type DataMode struct {
	Type DataType
	Size uint32
}

// CompoundBiasSize is the byte size of one compound bias element: a 32-bit
// bias, an 8-bit multiplier and three padding bytes.
const CompoundBiasSize = 8

var (
	ModeDisabled     = DataMode{Type: Disabled, Size: 0}
	ModeInt8         = DataMode{Type: Int8, Size: 1}
	ModeInt16        = DataMode{Type: Int16, Size: 2}
	ModeInt32        = DataMode{Type: Int32, Size: 4}
	ModeCompoundBias = DataMode{Type: CompoundBias, Size: CompoundBiasSize}
)

// ModeOf returns the canonical mode of t.
func ModeOf(t DataType) (DataMode, error) {
	switch t {
	case Disabled:
		return ModeDisabled, nil
	case Int8:
		return ModeInt8, nil
	case Int16:
		return ModeInt16, nil
	case Int32:
		return ModeInt32, nil
	case CompoundBias:
		return ModeCompoundBias, nil
	default:
		return DataMode{}, fmt.Errorf("unknown data type %d", uint8(t))
	}
}

// ParseDataMode accepts int8, int16, int32, compound and disabled.
func ParseDataMode(name string) (DataMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int8", "i8":
		return ModeInt8, nil
	case "int16", "i16":
		return ModeInt16, nil
	case "int32", "i32":
		return ModeInt32, nil
	case "compound", "compound_bias", "rich":
		return ModeCompoundBias, nil
	case "disabled", "":
		return ModeDisabled, nil
	default:
		return DataMode{}, fmt.Errorf("unknown data mode %q (expected int8, int16, int32, compound or disabled)", name)
	}
}

func (m DataMode) IsDisabled() bool {
	return m.Type == Disabled
}

func (m DataMode) String() string {
	return m.Type.String()
}
