package transform

import (
	"fmt"

	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
)

// Affine is a fully connected, diagonal or grouped-bias affine layer. Its
// operands and kernel configuration are fixed at construction.
type Affine struct {
	op capability.Operation

	// input is owned by the caller; the remaining tensors are owned here.
	input   *tensor.Tensor
	output  *tensor.Tensor
	weights *tensor.Tensor
	biases  *tensor.Tensor
	scales  *tensor.Tensor

	config     kernel.AffineConfig
	dense      *kernel.Table[kernel.AffineKernel]
	activeList *kernel.Table[kernel.AffineActiveListKernel]
}

var _ Transform = (*Affine)(nil)

// NewAffine builds an affine transform. An Affine descriptor whose bias mode
// parameter is grouped is built as AffineMultiBias.
func NewAffine(cfg Config, op OperationDescriptor) (*Affine, error) {
	kind := op.Type
	switch kind {
	case capability.Affine:
		mode, err := paramBiasMode(op.Parameters, capability.BiasModeParamIndex)
		if err != nil {
			return nil, err
		}
		if mode == BiasModeGrouped {
			kind = capability.AffineMultiBias
		}
	case capability.AffineDiagonal, capability.AffineMultiBias:
	default:
		return nil, status.Newf(status.XnnErrorLyrOperation, "%s is not an affine operation", kind)
	}

	a := &Affine{op: kind}
	operand := func(index int, dst **tensor.Tensor) status.Check {
		return status.Operand(index, func() error {
			d, err := op.operand(index)
			if err != nil {
				if index != capability.BiasOperandIndex || kind == capability.AffineMultiBias {
					return err
				}
				// A single-bias layer may omit its biases.
				d = &OperandDescriptor{Mode: tensor.ModeDisabled}
			}
			t, err := newTensor(kind, index, d)
			if err != nil {
				return err
			}
			*dst = t
			return nil
		})
	}

	checks := []status.Check{
		operand(capability.InputOperandIndex, &a.input),
		operand(capability.WeightOperandIndex, &a.weights),
		operand(capability.BiasOperandIndex, &a.biases),
		status.Operand(capability.OutputOperandIndex, func() error {
			return a.buildOutput(op)
		}),
	}
	if kind == capability.AffineMultiBias {
		checks = append(checks, status.Operand(capability.WeightScaleFactorOperandIndex, func() error {
			return a.buildScales(op)
		}))
	}
	report := status.Batch(cfg.DescribeAll, checks...)
	if report.Len() > 0 {
		return nil, report.Err()
	}

	var biasIndex uint32
	if kind == capability.AffineMultiBias {
		idx, err := paramUint32(op.Parameters, capability.BiasVectorParamIndex)
		if err != nil {
			return nil, err
		}
		biasIndex = idx
	}
	if err := a.checkVolumes(cfg.DescribeAll, biasIndex); err != nil {
		return nil, err
	}
	if err := a.resolve(cfg.kernels()); err != nil {
		return nil, err
	}
	a.buildConfig(biasIndex)
	return a, nil
}

// buildOutput validates the output descriptor, allocating its buffer when the
// descriptor has none.
func (a *Affine) buildOutput(op OperationDescriptor) error {
	d, err := op.operand(capability.OutputOperandIndex)
	if err != nil {
		return err
	}
	desc := *d
	if desc.Buffer == nil && !desc.Mode.IsDisabled() {
		s, err := desc.shape()
		if err != nil {
			return err
		}
		desc.Buffer = allocate(s.Count(), desc.Mode)
	}
	t, err := newTensor(a.op, capability.OutputOperandIndex, &desc)
	if err != nil {
		return err
	}
	a.output = t
	return nil
}

// buildScales leaves a.scales nil when the descriptor is missing or disabled.
func (a *Affine) buildScales(op OperationDescriptor) error {
	d, ok := op.Operands[capability.WeightScaleFactorOperandIndex]
	if !ok || d == nil || d.Mode.IsDisabled() {
		return nil
	}
	t, err := newTensor(a.op, capability.WeightScaleFactorOperandIndex, d)
	if err != nil {
		return err
	}
	if a.weights != nil && a.weights.Mode() != tensor.ModeInt8 {
		return status.New(status.ModelConfigurationInvalid, "weight scale factors require 8-bit weights").
			WithExpected(tensor.ModeInt8, a.weights.Mode())
	}
	a.scales = t
	return nil
}

func allocate(count uint64, mode tensor.DataMode) []byte {
	switch mode.Size {
	case 2:
		return tensor.Bytes16(make([]int16, count))
	case 4:
		return tensor.Bytes32(make([]int32, count))
	default:
		return make([]byte, count*uint64(mode.Size))
	}
}

func extent(t *tensor.Tensor, d tensor.Dim) uint32 {
	v, _ := t.At(d)
	return v
}

// checkVolumes cross-checks operand extents against each other.
func (a *Affine) checkVolumes(describeAll bool, biasIndex uint32) error {
	elements := extent(a.input, tensor.DimH)
	vectors := extent(a.input, tensor.DimW)
	rows := extent(a.output, tensor.DimH)

	mismatch := func(code status.Code, what string, want, got uint32) error {
		if want == got {
			return nil
		}
		return status.Newf(code, "%s mismatch", what).WithExpected(want, got)
	}

	checks := []status.Check{
		status.Operand(capability.OutputOperandIndex, func() error {
			return mismatch(status.XnnErrorOutputVolume, "output vectors", vectors, extent(a.output, tensor.DimW))
		}),
	}
	if a.op == capability.AffineDiagonal {
		checks = append(checks,
			status.Operand(capability.WeightOperandIndex, func() error {
				return mismatch(status.XnnErrorWeightVolume, "diagonal weights", elements, extent(a.weights, tensor.DimH))
			}),
			status.Operand(capability.OutputOperandIndex, func() error {
				return mismatch(status.XnnErrorOutputVolume, "diagonal output rows", elements, rows)
			}),
		)
	} else {
		checks = append(checks,
			status.Operand(capability.WeightOperandIndex, func() error {
				if err := mismatch(status.XnnErrorWeightVolume, "weight columns", elements, extent(a.weights, tensor.DimW)); err != nil {
					return err
				}
				return mismatch(status.XnnErrorWeightVolume, "weight rows", rows, extent(a.weights, tensor.DimH))
			}),
		)
	}
	if !a.biases.Mode().IsDisabled() {
		checks = append(checks, status.Operand(capability.BiasOperandIndex, func() error {
			return mismatch(status.XnnErrorBiasVolume, "bias rows", rows, extent(a.biases, tensor.DimH))
		}))
	}
	if a.op == capability.AffineMultiBias {
		checks = append(checks, status.Parameter(capability.BiasVectorParamIndex, func() error {
			groups := extent(a.biases, tensor.DimW)
			if biasIndex >= groups {
				return status.New(status.XnnErrorBiasIndex, "bias vector index out of range").
					WithExpected(fmt.Sprintf("< %d", groups), biasIndex)
			}
			return nil
		}))
		if a.scales != nil {
			checks = append(checks, status.Operand(capability.WeightScaleFactorOperandIndex, func() error {
				return mismatch(status.XnnErrorBiasVolume, "weight scale rows", rows, extent(a.scales, tensor.DimH))
			}))
		}
	}
	return status.Batch(describeAll, checks...).Err()
}

func kernelOp(op capability.Operation) kernel.Op {
	switch op {
	case capability.AffineDiagonal:
		return kernel.OpAffineDiagonal
	case capability.AffineMultiBias:
		return kernel.OpAffineMultiBias
	default:
		return kernel.OpAffine
	}
}

// resolve binds the dense table and, for plain affine layers, the active list
// table. A missing active list table only fails when an active list is used.
func (a *Affine) resolve(set *kernel.Set) error {
	sig := kernel.NewSignature(a.input.Mode(), a.weights.Mode(), a.biases.Mode())
	dense, err := set.Affine.Resolve(kernelOp(a.op), sig)
	if err != nil {
		return err
	}
	a.dense = dense
	if a.op == capability.Affine {
		if al, err := set.AffineActiveList.Resolve(kernel.OpAffineActiveList, sig); err == nil {
			a.activeList = al
		}
	}
	return nil
}

func (a *Affine) buildConfig(biasIndex uint32) {
	c := kernel.AffineConfig{
		RowCount:        extent(a.output, tensor.DimH),
		VectorCount:     extent(a.input, tensor.DimW),
		ElementCount:    extent(a.input, tensor.DimH),
		InputMode:       a.input.Mode(),
		Weights:         a.weights.Bytes(),
		WeightMode:      a.weights.Mode(),
		Biases:          a.biases.Bytes(),
		BiasMode:        a.biases.Mode(),
		BiasVectorCount: 1,
	}
	if a.op == capability.AffineMultiBias {
		c.BiasVectorCount = extent(a.biases, tensor.DimW)
		c.BiasVectorIndex = biasIndex
		if a.scales != nil {
			c.WeightScales = a.scales.Bytes()
		}
	}
	a.config = c
}

func (a *Affine) Operation() capability.Operation {
	return a.op
}

// Operand returns the tensor at index. Operands the layer does not carry
// fail with OperandAbsent.
func (a *Affine) Operand(index int) (*tensor.Tensor, error) {
	var t *tensor.Tensor
	switch index {
	case capability.InputOperandIndex:
		t = a.input
	case capability.OutputOperandIndex:
		t = a.output
	case capability.WeightOperandIndex:
		t = a.weights
	case capability.BiasOperandIndex:
		t = a.biases
	case capability.WeightScaleFactorOperandIndex:
		t = a.scales
	}
	if t == nil {
		return nil, absent(index)
	}
	return t, nil
}

func (a *Affine) Params() []Param {
	if a.op != capability.AffineMultiBias {
		return nil
	}
	return []Param{
		{Name: "bias_vector_count", Value: a.config.BiasVectorCount},
		{Name: "bias_vector_index", Value: a.config.BiasVectorIndex},
	}
}

// Config returns a copy of the kernel configuration.
func (a *Affine) Config() kernel.AffineConfig {
	return a.config
}

// Compute runs the layer on the host. With an active list only the listed
// rows are computed and written densely to the start of the output.
func (a *Affine) Compute(mode accel.Mode, al *ActiveList, exec *kernel.ExecutionContext) error {
	if exec == nil {
		exec = &kernel.ExecutionContext{}
	}
	e := &kernel.Execution[kernel.AffineConfig]{
		Config:  &a.config,
		Input:   a.input.Bytes(),
		Output:  a.output.Bytes(),
		Context: exec,
	}
	if al != nil {
		if err := a.ValidateActiveList(al); err != nil {
			return err
		}
		if a.activeList == nil {
			return status.Newf(status.KernelNotSupported, "no active list kernel for %s", a.dense.Signature())
		}
		fn, err := a.activeList.At(mode)
		if err != nil {
			return err
		}
		fn(e, kernel.ActiveListConfig{Indices: al.Indices})
		return nil
	}
	fn, err := a.dense.At(mode)
	if err != nil {
		return err
	}
	fn(e)
	return nil
}
