package transform

import (
	"fmt"

	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
)

// ActiveList selects the output rows computed by one call. It is owned by
// the caller and may differ between calls on the same transform.
type ActiveList struct {
	Indices []uint32
}

func (al *ActiveList) Count() uint32 {
	return uint32(len(al.Indices))
}

// ValidateActiveList checks al against the layer's output rows. A nil list is
// always valid.
func (a *Affine) ValidateActiveList(al *ActiveList) error {
	if al == nil {
		return nil
	}
	if a.op != capability.Affine {
		return status.Newf(status.ModelConfigurationInvalid, "%s does not support active lists", a.op)
	}
	rows := a.config.RowCount
	if n := al.Count(); n < 1 || n > rows {
		return status.New(status.ActiveListIndicesInvalid, "active list count out of range").
			WithExpected(fmt.Sprintf("[1, %d]", rows), n)
	}
	for i, idx := range al.Indices {
		if idx >= rows {
			return status.Newf(status.ActiveListIndicesInvalid, "index %d selects row %d", i, idx).
				WithExpected(fmt.Sprintf("< %d", rows), idx)
		}
	}
	switch a.config.BiasMode.Type {
	case tensor.Int32, tensor.CompoundBias:
	default:
		return status.New(status.ModelConfigurationInvalid, "active lists need int32 or compound biases").
			WithExpected("int32|compound", a.config.BiasMode)
	}
	return nil
}
