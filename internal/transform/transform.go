// Package transform turns validated layer descriptors into immutable compute
// transforms bound to kernels from a kernel.Set.
package transform

import (
	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
)

// Param is a resolved scalar parameter of a layer, in device encoding.
type Param struct {
	Name  string
	Value uint32
}

// Layer is the read-only view of a configured layer used to build hardware
// requests.
type Layer interface {
	Operation() capability.Operation
	Operand(index int) (*tensor.Tensor, error)
	Params() []Param
}

// Transform is a layer that can compute on the host.
type Transform interface {
	Layer
	ValidateActiveList(al *ActiveList) error
	Compute(mode accel.Mode, al *ActiveList, exec *kernel.ExecutionContext) error
}

// Config controls construction.
type Config struct {
	// Kernels defaults to kernel.Default().
	Kernels *kernel.Set
	// DescribeAll collects every operand failure instead of stopping at the
	// first one.
	DescribeAll bool
}

func (c Config) kernels() *kernel.Set {
	if c.Kernels != nil {
		return c.Kernels
	}
	return kernel.Default()
}

// OperandDescriptor is a raw (shape, mode, buffer) triple. A nil Buffer on an
// output operand asks the transform to allocate it.
type OperandDescriptor struct {
	Layout string
	Shape  []uint32
	Mode   tensor.DataMode
	Buffer []byte
}

func (d *OperandDescriptor) shape() (tensor.Shape, error) {
	if d.Mode.IsDisabled() && len(d.Shape) == 0 {
		return tensor.Shape{}, nil
	}
	return tensor.NewShape(d.Layout, d.Shape...)
}

// OperationDescriptor is the generic description of one layer.
type OperationDescriptor struct {
	Type       capability.Operation
	Operands   map[int]*OperandDescriptor
	Parameters map[int]any
}

func (op *OperationDescriptor) operand(index int) (*OperandDescriptor, error) {
	d, ok := op.Operands[index]
	if !ok || d == nil {
		return nil, status.Newf(status.OperandAbsent, "%s operand missing", capability.OperandName(index))
	}
	return d, nil
}

// LegacyConvolution is the fixed-layout pooling description.
type LegacyConvolution struct {
	PoolType   kernel.PoolingType
	PoolSize   uint32
	PoolStride uint32
}

// newTensor validates d against the capability of (op, index).
func newTensor(op capability.Operation, index int, d *OperandDescriptor) (*tensor.Tensor, error) {
	s, err := d.shape()
	if err != nil {
		return nil, err
	}
	return tensor.New(s, d.Mode, d.Buffer, capability.Validator(op, index))
}

func absent(index int) error {
	return status.Newf(status.OperandAbsent, "%s not present", capability.OperandName(index)).WithOperand(index)
}
