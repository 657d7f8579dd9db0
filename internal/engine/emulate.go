package engine

import (
	"fmt"

	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/driver"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/request"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
	"github.com/samcharles93/nnaccel/internal/transform"
)

// Emulate executes a request on the host with the generic kernels, reading
// and writing the regions the device mapped. It is the execute hook of a
// simulated device, so a simulated run produces the same outputs as a
// software one. A kernel panic inside the hook is reported as a device
// hardware error instead of taking down the device goroutine.
func Emulate(req *driver.HardwareRequest, mem driver.HostMemory) (bits uint32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = status.Newf(status.DeviceHardwareError, "emulated request panicked: %v", rec)
		}
	}()
	d, err := request.Decode(req.Descriptor)
	if err != nil {
		return 0, err
	}
	for i, l := range d.Layers {
		tr, err := rebuild(l, mem)
		if err != nil {
			return bits, fmt.Errorf("layer %d: %w", i, err)
		}
		var al *transform.ActiveList
		if l.ActiveList != nil {
			al = &transform.ActiveList{Indices: l.ActiveList}
		}
		exec := &kernel.ExecutionContext{}
		if err := tr.Compute(accel.Generic, al, exec); err != nil {
			return bits, fmt.Errorf("layer %d: %w", i, err)
		}
		if exec.Saturations > 0 {
			bits |= driver.HWSaturation
		}
	}
	return bits, nil
}

// rebuild turns a decoded layer back into a transform over the mapped
// regions.
func rebuild(l request.LayerDescriptor, mem driver.HostMemory) (transform.Transform, error) {
	op := transform.OperationDescriptor{
		Type:       l.Operation,
		Operands:   make(map[int]*transform.OperandDescriptor, len(l.Operands)),
		Parameters: map[int]any{},
	}
	for _, o := range l.Operands {
		d := &transform.OperandDescriptor{Layout: o.Layout, Shape: o.Extents, Mode: o.Mode}
		if o.Memory != driver.ForbiddenMemoryID {
			region, ok := mem.Region(o.Memory)
			if !ok {
				return nil, status.Newf(status.IdentifierInvalid, "memory %d is not mapped", o.Memory).WithOperand(o.Index)
			}
			buf, err := o.Region(region)
			if err != nil {
				return nil, status.Tag(err, status.ItemOperand, o.Index)
			}
			d.Buffer = buf
		}
		op.Operands[o.Index] = d
	}

	switch l.Operation {
	case capability.AffineMultiBias:
		// bias_vector_count, bias_vector_index
		if len(l.Params) != 2 {
			return nil, status.Newf(status.ParameterAbsent, "multibias layer carries %d params", len(l.Params))
		}
		op.Parameters[capability.BiasVectorParamIndex] = l.Params[1]
	case capability.Convolution:
		// pooling_mode, pooling_window, pooling_stride
		if len(l.Params) != 3 {
			return nil, status.Newf(status.ParameterAbsent, "pooling layer carries %d params", len(l.Params))
		}
		op.Parameters[capability.PoolingModeParamIndex] = kernel.PoolingType(l.Params[0])
		op.Parameters[capability.PoolingWindowParamIndex] = l.Params[1]
		op.Parameters[capability.PoolingStrideParamIndex] = l.Params[2]
	}

	tr, err := NewTransform(transform.Config{}, op)
	if err != nil {
		return nil, err
	}
	if sig := signatureOf(tr); sig != l.Signature {
		return nil, status.Newf(status.KernelNotSupported, "descriptor signature %s does not match operands %s", l.Signature, sig)
	}
	return tr, nil
}

func signatureOf(tr transform.Layer) kernel.Signature {
	mode := func(index int) tensor.DataMode {
		t, err := tr.Operand(index)
		if err != nil {
			return tensor.ModeDisabled
		}
		return t.Mode()
	}
	return kernel.NewSignature(
		mode(capability.InputOperandIndex),
		mode(capability.WeightOperandIndex),
		mode(capability.BiasOperandIndex),
	)
}
