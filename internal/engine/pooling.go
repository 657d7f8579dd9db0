package engine

import (
	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
	"github.com/samcharles93/nnaccel/internal/transform"
)

// PoolingStage runs a pooling stage over convolution outputs that are already
// in host memory. The input holds one row of int32 values per filter.
type PoolingStage struct {
	pool       *transform.Pooling
	input      *tensor.Tensor
	output     *tensor.Tensor
	activation *tensor.Tensor
	act        *kernel.ActivationTable
}

var _ transform.Transform = (*PoolingStage)(nil)

// NewPoolingStage builds the stage of a convolution descriptor. Disabled
// pooling is rejected: there is nothing left to compute on its own.
func NewPoolingStage(cfg transform.Config, op transform.OperationDescriptor) (*PoolingStage, error) {
	if op.Type != capability.Convolution {
		return nil, status.Newf(status.XnnErrorLyrOperation, "%s is not a pooling operation", op.Type)
	}
	in, err := operandTensor(op, capability.InputOperandIndex, false)
	if err != nil {
		return nil, err
	}
	pool, err := transform.NewPooling(cfg, op, in.Shape(), in.Mode())
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, status.New(status.ModelConfigurationInvalid, "pooling is disabled").
			WithParameter(capability.PoolingModeParamIndex)
	}

	s := &PoolingStage{pool: pool, input: in}
	report := status.Batch(cfg.DescribeAll,
		status.Operand(capability.OutputOperandIndex, s.buildOutput(op)),
		status.Operand(capability.ActivationOperandIndex, s.buildActivation(op)),
	)
	if report.Len() > 0 {
		return nil, report.Err()
	}
	return s, nil
}

func operandTensor(op transform.OperationDescriptor, index int, allocate bool) (*tensor.Tensor, error) {
	d, ok := op.Operands[index]
	if !ok || d == nil {
		return nil, status.Newf(status.OperandAbsent, "%s missing", capability.OperandName(index)).WithOperand(index)
	}
	s, err := tensor.NewShape(d.Layout, d.Shape...)
	if err != nil {
		return nil, status.Tag(err, status.ItemOperand, index)
	}
	buf := d.Buffer
	if buf == nil && allocate && !d.Mode.IsDisabled() {
		buf = alloc(s.Count(), d.Mode)
	}
	t, err := tensor.New(s, d.Mode, buf, capability.Validator(op.Type, index))
	if err != nil {
		return nil, status.Tag(err, status.ItemOperand, index)
	}
	return t, nil
}

// alloc returns a buffer aligned for mode's element size.
func alloc(count uint64, mode tensor.DataMode) []byte {
	switch mode.Size {
	case 2:
		return tensor.Bytes16(make([]int16, count))
	case 4:
		return tensor.Bytes32(make([]int32, count))
	default:
		return make([]byte, count*uint64(mode.Size))
	}
}

func (s *PoolingStage) buildOutput(op transform.OperationDescriptor) func() error {
	return func() error {
		out, err := operandTensor(op, capability.OutputOperandIndex, true)
		if err != nil {
			return err
		}
		if want := s.pool.OutputShape(); !out.Shape().Equal(want) {
			return status.New(status.XnnErrorOutputVolume, "pooled output shape mismatch").
				WithExpected(want, out.Shape())
		}
		s.output = out
		return nil
	}
}

// buildActivation decodes the optional activation table. Activations only
// apply to 16-bit outputs.
func (s *PoolingStage) buildActivation(op transform.OperationDescriptor) func() error {
	return func() error {
		d, ok := op.Operands[capability.ActivationOperandIndex]
		if !ok || d == nil || d.Mode.IsDisabled() {
			return nil
		}
		shape, err := tensor.NewShape(d.Layout, d.Shape...)
		if err != nil {
			return err
		}
		t, err := tensor.New(shape, d.Mode, d.Buffer, nil)
		if err != nil {
			return err
		}
		var table kernel.ActivationTable
		if err := table.UnmarshalBinary(t.Bytes()); err != nil {
			return status.New(status.ModelConfigurationInvalid, err.Error())
		}
		if s.output != nil && s.output.Mode() != tensor.ModeInt16 {
			return status.New(status.ModelConfigurationInvalid, "activation needs a 16-bit output").
				WithExpected(tensor.ModeInt16, s.output.Mode())
		}
		s.activation = t
		s.act = &table
		return nil
	}
}

func (s *PoolingStage) Operation() capability.Operation {
	return capability.Convolution
}

func (s *PoolingStage) Operand(index int) (*tensor.Tensor, error) {
	var t *tensor.Tensor
	switch index {
	case capability.InputOperandIndex:
		t = s.input
	case capability.OutputOperandIndex:
		t = s.output
	case capability.ActivationOperandIndex:
		t = s.activation
	}
	if t == nil {
		return nil, status.Newf(status.OperandAbsent, "%s not present", capability.OperandName(index)).WithOperand(index)
	}
	return t, nil
}

func (s *PoolingStage) Params() []transform.Param {
	return s.pool.Params()
}

// Pooling returns the underlying stage.
func (s *PoolingStage) Pooling() *transform.Pooling {
	return s.pool
}

// ValidateActiveList rejects every non-nil list.
func (s *PoolingStage) ValidateActiveList(al *transform.ActiveList) error {
	if al == nil {
		return nil
	}
	return status.New(status.ModelConfigurationInvalid, "pooling does not support active lists")
}

func (s *PoolingStage) Compute(mode accel.Mode, al *transform.ActiveList, exec *kernel.ExecutionContext) error {
	if err := s.ValidateActiveList(al); err != nil {
		return err
	}
	in := s.input.Shape()
	filters, _ := in.At(tensor.DimD)
	perFilter, _ := in.At(tensor.DimW)
	conv := &kernel.ConvolutionConfig{
		Filters:          filters,
		InputsPerFilter:  perFilter,
		OutputsPerFilter: s.pool.OutputsPerFilter(),
		Inputs:           s.input.Bytes(),
		Outputs:          s.output.Bytes(),
		OutputMode:       s.output.Mode(),
		Context:          exec,
	}
	return s.pool.Compute(conv, mode, make([]int64, s.pool.OutputsPerFilter()), s.act)
}
