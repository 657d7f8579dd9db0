// Package model loads layer descriptions from YAML or JSON files and binds
// them to host buffers the engine can compute on or map for a device.
package model

// File is the on-disk model description.
type File struct {
	Name    string       `yaml:"name" json:"name"`
	Buffers []BufferSpec `yaml:"buffers" json:"buffers"`
	Layers  []LayerSpec  `yaml:"layers" json:"layers"`
}

// BufferSpec declares a host buffer of Count elements of Type. Data, when
// present, holds exactly Count values (compound buffers take bias and
// multiplier pairs); otherwise Fill initializes it.
type BufferSpec struct {
	Name  string  `yaml:"name" json:"name"`
	Type  string  `yaml:"type" json:"type"`
	Count uint32  `yaml:"count" json:"count"`
	Fill  *Fill   `yaml:"fill,omitempty" json:"fill,omitempty"`
	Data  []int64 `yaml:"data,omitempty" json:"data,omitempty"`
}

// Fill generates buffer contents.
//
//	zero      all zeroes (the default)
//	constant  Value everywhere
//	ramp      Value + i*Step
//	random    uniform in [Min, Max] from Seed
type Fill struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Value   int64  `yaml:"value,omitempty" json:"value,omitempty"`
	Step    int64  `yaml:"step,omitempty" json:"step,omitempty"`
	Seed    uint64 `yaml:"seed,omitempty" json:"seed,omitempty"`
	Min     int64  `yaml:"min,omitempty" json:"min,omitempty"`
	Max     int64  `yaml:"max,omitempty" json:"max,omitempty"`
}

// OperandSpec places an operand in a buffer. Offset is in bytes. Mode
// defaults to the buffer's type; a disabled operand needs no buffer.
type OperandSpec struct {
	Buffer string   `yaml:"buffer,omitempty" json:"buffer,omitempty"`
	Offset uint32   `yaml:"offset,omitempty" json:"offset,omitempty"`
	Layout string   `yaml:"layout,omitempty" json:"layout,omitempty"`
	Shape  []uint32 `yaml:"shape,omitempty" json:"shape,omitempty"`
	Mode   string   `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// LayerSpec is one layer. Operands are keyed by name (input, output,
// weights, biases, weight_scale_factors) and Params by name (bias_mode,
// bias_vector_index, pooling_mode, pooling_window, pooling_stride).
type LayerSpec struct {
	Name       string                 `yaml:"name" json:"name"`
	Operation  string                 `yaml:"operation" json:"operation"`
	Operands   map[string]OperandSpec `yaml:"operands" json:"operands"`
	Params     map[string]any         `yaml:"params,omitempty" json:"params,omitempty"`
	ActiveList []uint32               `yaml:"active_list,omitempty" json:"active_list,omitempty"`
	Activation []SegmentSpec          `yaml:"activation,omitempty" json:"activation,omitempty"`
}

// SegmentSpec is one piece of a pooling stage's activation function.
type SegmentSpec struct {
	X     int32 `yaml:"x" json:"x"`
	Y     int16 `yaml:"y" json:"y"`
	Slope int16 `yaml:"slope" json:"slope"`
	Shift uint8 `yaml:"shift" json:"shift"`
}
