package transform

import (
	"fmt"

	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
)

// Pooling is the pooling stage fused after a convolution. It holds shapes and
// the pooling kernel only; the convolution owns the buffers.
type Pooling struct {
	config    kernel.PoolingConfig
	window    tensor.Shape
	stride    tensor.Shape
	input     tensor.Shape
	output    tensor.Shape
	perFilter uint32
	table     *kernel.Table[kernel.PoolingKernel]
}

// NewPooling reads the pooling parameters of a convolution descriptor. A
// disabled pooling stage yields (nil, nil).
func NewPooling(cfg Config, op OperationDescriptor, input tensor.Shape, inputMode tensor.DataMode) (*Pooling, error) {
	if op.Type != capability.Convolution {
		return nil, status.Newf(status.XnnErrorLyrOperation, "%s has no pooling stage", op.Type)
	}
	typ, err := paramPoolingType(op.Parameters, capability.PoolingModeParamIndex)
	if err != nil {
		return nil, err
	}
	if typ == kernel.PoolingDisabled {
		return nil, nil
	}

	var window, stride tensor.Shape
	report := status.Batch(cfg.DescribeAll,
		status.Parameter(capability.PoolingWindowParamIndex, func() error {
			s, err := paramShape(op.Parameters, capability.PoolingWindowParamIndex, capability.PoolingWindowLimits[capability.Convolution])
			window = s
			return err
		}),
		status.Parameter(capability.PoolingStrideParamIndex, func() error {
			s, err := paramShape(op.Parameters, capability.PoolingStrideParamIndex, capability.PoolingStrideLimits[capability.Convolution])
			stride = s
			return err
		}),
	)
	if report.Len() > 0 {
		return nil, report.Err()
	}
	return newPooling(cfg, typ, window, stride, input, inputMode)
}

// NewPoolingLegacy normalizes the fixed-layout description to the same
// stage NewPooling builds.
func NewPoolingLegacy(cfg Config, legacy LegacyConvolution, input tensor.Shape, inputMode tensor.DataMode) (*Pooling, error) {
	if legacy.PoolType == kernel.PoolingDisabled {
		return nil, nil
	}
	if legacy.PoolType > kernel.PoolingSum {
		return nil, status.Newf(status.CnnErrorPoolType, "pooling type %d", legacy.PoolType).
			WithParameter(capability.PoolingModeParamIndex)
	}
	var window, stride tensor.Shape
	report := status.Batch(cfg.DescribeAll,
		status.Parameter(capability.PoolingWindowParamIndex, func() error {
			s, err := extentShape(legacy.PoolSize, capability.PoolingWindowLimits[capability.Convolution])
			window = s
			return err
		}),
		status.Parameter(capability.PoolingStrideParamIndex, func() error {
			s, err := extentShape(legacy.PoolStride, capability.PoolingStrideLimits[capability.Convolution])
			stride = s
			return err
		}),
	)
	if report.Len() > 0 {
		return nil, report.Err()
	}
	return newPooling(cfg, legacy.PoolType, window, stride, input, inputMode)
}

func newPooling(cfg Config, typ kernel.PoolingType, window, stride, input tensor.Shape, inputMode tensor.DataMode) (*Pooling, error) {
	report := status.Batch(cfg.DescribeAll,
		status.Operand(capability.InputOperandIndex, func() error {
			return capability.Validate(capability.Convolution, capability.InputOperandIndex, input, inputMode)
		}),
		status.Parameter(capability.PoolingWindowParamIndex, func() error {
			return capability.ValidateShape(window, capability.PoolingWindowLimits[capability.Convolution])
		}),
		status.Parameter(capability.PoolingStrideParamIndex, func() error {
			return capability.ValidateShape(stride, capability.PoolingStrideLimits[capability.Convolution])
		}),
	)
	if report.Len() > 0 {
		return nil, report.Err()
	}

	output, perFilter, err := poolingOutput(input, stride)
	if err != nil {
		return nil, err
	}
	table, err := cfg.kernels().Pooling.Resolve(kernel.OpPooling, kernel.NewSignature(inputMode, tensor.ModeDisabled, tensor.ModeDisabled))
	if err != nil {
		return nil, err
	}
	w, _ := window.At(tensor.DimW)
	s, _ := stride.At(tensor.DimW)
	return &Pooling{
		config:    kernel.PoolingConfig{Type: typ, Window: w, Stride: s},
		window:    window,
		stride:    stride,
		input:     input,
		output:    output,
		perFilter: perFilter,
		table:     table,
	}, nil
}

// poolingOutput derives the output shape: depth passes through and every
// other dimension becomes (in-1)/stride+1.
func poolingOutput(input, stride tensor.Shape) (tensor.Shape, uint32, error) {
	extents := input.Extents()
	perFilter := uint32(1)
	for i, d := range input.Dims() {
		if d == tensor.DimD {
			continue
		}
		s, err := stride.At(d)
		if err != nil {
			s = 1
		}
		in := extents[i]
		out := (in-1)/s + 1
		if out < 1 || out > in {
			return tensor.Shape{}, 0, status.Newf(status.CnnErrorPoolSize, "pooled %s extent out of range", d).
				WithExpected(fmt.Sprintf("[1, %d]", in), out)
		}
		extents[i] = out
		perFilter *= out
	}
	s, err := tensor.NewShape(input.Layout(), extents...)
	if err != nil {
		return tensor.Shape{}, 0, err
	}
	return s, perFilter, nil
}

func (p *Pooling) Type() kernel.PoolingType {
	return p.config.Type
}

func (p *Pooling) Window() tensor.Shape {
	return p.window
}

func (p *Pooling) Stride() tensor.Shape {
	return p.stride
}

// OutputsPerFilter is the product of the pooled non-depth extents.
func (p *Pooling) OutputsPerFilter() uint32 {
	return p.perFilter
}

func (p *Pooling) InputShape() tensor.Shape {
	return p.input
}

func (p *Pooling) OutputShape() tensor.Shape {
	return p.output
}

func (p *Pooling) Params() []Param {
	return []Param{
		{Name: "pooling_mode", Value: uint32(p.config.Type)},
		{Name: "pooling_window", Value: p.config.Window},
		{Name: "pooling_stride", Value: p.config.Stride},
	}
}

// Compute pools conv.Inputs into conv.Outputs. scratch must hold at least
// OutputsPerFilter values; act is passed through to the kernel.
func (p *Pooling) Compute(conv *kernel.ConvolutionConfig, mode accel.Mode, scratch []int64, act *kernel.ActivationTable) error {
	if conv == nil {
		return status.New(status.NullArgumentNotAllowed, "convolution config is nil")
	}
	if uint32(len(scratch)) < p.perFilter {
		return status.New(status.MemorySizeInvalid, "pooling scratch too small").WithExpected(p.perFilter, len(scratch))
	}
	if conv.OutputsPerFilter != p.perFilter {
		return status.New(status.XnnErrorOutputVolume, "outputs per filter mismatch").WithExpected(p.perFilter, conv.OutputsPerFilter)
	}
	if w, _ := p.input.At(tensor.DimW); conv.InputsPerFilter != w {
		return status.New(status.XnnErrorInputVolume, "inputs per filter mismatch").WithExpected(w, conv.InputsPerFilter)
	}
	fn, err := p.table.At(mode)
	if err != nil {
		return err
	}
	if conv.Context == nil {
		conv.Context = &kernel.ExecutionContext{}
	}
	fn(conv, &kernel.PoolingCall{Config: &p.config, Scratch: scratch}, act)
	return nil
}
