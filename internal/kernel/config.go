package kernel

import (
	"math"

	"github.com/samcharles93/nnaccel/internal/tensor"
)

// ExecutionContext is per-call state shared by every kernel of one request.
type ExecutionContext struct {
	// Saturations counts results clamped to the output range.
	Saturations uint32
}

func (c *ExecutionContext) saturate32(v int64) int32 {
	switch {
	case v > math.MaxInt32:
		c.Saturations++
		return math.MaxInt32
	case v < math.MinInt32:
		c.Saturations++
		return math.MinInt32
	default:
		return int32(v)
	}
}

func (c *ExecutionContext) saturate16(v int64) int16 {
	switch {
	case v > math.MaxInt16:
		c.Saturations++
		return math.MaxInt16
	case v < math.MinInt16:
		c.Saturations++
		return math.MinInt16
	default:
		return int16(v)
	}
}

// Execution bundles the base buffers of one call with the operation's
// immutable configuration.
type Execution[C any] struct {
	Config  *C
	Input   []byte
	Output  []byte
	Context *ExecutionContext
}

// AffineConfig is built once per transform and never mutated.
//
// Inputs are interleaved: element k of vector n is Input[k*VectorCount+n].
// Outputs follow the same layout with RowCount rows.
type AffineConfig struct {
	RowCount     uint32
	VectorCount  uint32
	ElementCount uint32

	InputMode  tensor.DataMode
	Weights    []byte
	WeightMode tensor.DataMode
	Biases     []byte
	BiasMode   tensor.DataMode

	// BiasVectorCount is the grouped bias stride; 1 for single-bias layers.
	BiasVectorCount uint32
	BiasVectorIndex uint32

	// WeightScales holds one compound element per row, nil when absent.
	WeightScales []byte
}

// ActiveListConfig restricts an affine call to the listed output rows.
type ActiveListConfig struct {
	Indices []uint32
}

// PoolingType is the kernel-level pooling operation.
type PoolingType uint8

const (
	PoolingDisabled PoolingType = iota
	PoolingMax
	PoolingSum
)

func (p PoolingType) String() string {
	switch p {
	case PoolingMax:
		return "max"
	case PoolingSum:
		return "sum"
	default:
		return "disabled"
	}
}

// PoolingConfig is the immutable part of a pooling call.
type PoolingConfig struct {
	Type   PoolingType
	Window uint32
	Stride uint32
}

// PoolingCall pairs the immutable config with caller-provided scratch space,
// at least OutputsPerFilter elements long.
type PoolingCall struct {
	Config  *PoolingConfig
	Scratch []int64
}

// ConvolutionConfig describes the convolution outputs a pooling stage reads.
// Inputs hold Filters x InputsPerFilter int32 values; Outputs receive
// Filters x OutputsPerFilter values in OutputMode.
type ConvolutionConfig struct {
	Filters          uint32
	InputsPerFilter  uint32
	OutputsPerFilter uint32
	Inputs           []byte
	Outputs          []byte
	OutputMode       tensor.DataMode
	Context          *ExecutionContext
}

// Kernel function types. Kernels write only the designated output buffer.
type (
	AffineKernel           func(e *Execution[AffineConfig])
	AffineActiveListKernel func(e *Execution[AffineConfig], al ActiveListConfig)
	PoolingKernel          func(conv *ConvolutionConfig, pool *PoolingCall, act *ActivationTable)
)
