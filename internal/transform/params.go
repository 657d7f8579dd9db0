package transform

import (
	"math"
	"strings"

	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
)

// BiasMode selects between one bias per output row and grouped biases.
type BiasMode uint8

const (
	BiasModeDefault BiasMode = iota
	BiasModeGrouped
)

func (b BiasMode) String() string {
	if b == BiasModeGrouped {
		return "grouped"
	}
	return "default"
}

func lookupParam(params map[int]any, index int) (any, error) {
	v, ok := params[index]
	if !ok || v == nil {
		return nil, status.New(status.ParameterAbsent, "parameter missing").WithParameter(index)
	}
	return v, nil
}

// paramUint32 accepts the integer types produced by callers and by YAML and
// JSON decoders.
func paramUint32(params map[int]any, index int) (uint32, error) {
	v, err := lookupParam(params, index)
	if err != nil {
		return 0, err
	}
	n, ok := toUint32(v)
	if !ok {
		return 0, status.Newf(status.ModelConfigurationInvalid, "parameter is not an unsigned 32-bit integer: %v", v).WithParameter(index)
	}
	return n, nil
}

func toUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case int:
		return uint32(n), n >= 0 && uint64(n) <= math.MaxUint32
	case int32:
		return uint32(n), n >= 0
	case int64:
		return uint32(n), n >= 0 && uint64(n) <= math.MaxUint32
	case uint:
		return uint32(n), n <= math.MaxUint32
	case uint64:
		return uint32(n), n <= math.MaxUint32
	case float64:
		return uint32(n), n >= 0 && n <= math.MaxUint32 && n == math.Trunc(n)
	default:
		return 0, false
	}
}

// paramShape reads a window or stride. Scalars and single-element lists are
// taken as a W extent checked against limits; tensor.Shape values are used
// as is.
func paramShape(params map[int]any, index int, limits capability.ShapeLimits) (tensor.Shape, error) {
	v, err := lookupParam(params, index)
	if err != nil {
		return tensor.Shape{}, err
	}
	if s, ok := v.(tensor.Shape); ok {
		return s, nil
	}
	var extents []uint32
	switch list := v.(type) {
	case []uint32:
		extents = list
	case []int:
		for _, x := range list {
			n, ok := toUint32(x)
			if !ok {
				return tensor.Shape{}, badShapeParam(index, v)
			}
			extents = append(extents, n)
		}
	case []any:
		for _, x := range list {
			n, ok := toUint32(x)
			if !ok {
				return tensor.Shape{}, badShapeParam(index, v)
			}
			extents = append(extents, n)
		}
	default:
		n, ok := toUint32(v)
		if !ok {
			return tensor.Shape{}, badShapeParam(index, v)
		}
		extents = []uint32{n}
	}
	if len(extents) != 1 {
		return tensor.Shape{}, badShapeParam(index, v)
	}
	s, err := extentShape(extents[0], limits)
	if err != nil {
		return tensor.Shape{}, status.Tag(err, status.ItemParameter, index)
	}
	return s, nil
}

// extentShape builds a W shape, applying the W limit first so a zero extent
// fails with the limit's code rather than as an invalid shape.
func extentShape(n uint32, limits capability.ShapeLimits) (tensor.Shape, error) {
	if l, ok := limits[tensor.DimW]; ok {
		if err := l.Check(tensor.DimW, n); err != nil {
			return tensor.Shape{}, err
		}
	}
	return tensor.NewShape("W", n)
}

func badShapeParam(index int, v any) error {
	return status.Newf(status.ModelConfigurationInvalid, "parameter is not a W extent: %v", v).WithParameter(index)
}

// ParsePoolingType accepts max, sum and disabled.
func ParsePoolingType(name string) (kernel.PoolingType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "max":
		return kernel.PoolingMax, nil
	case "sum":
		return kernel.PoolingSum, nil
	case "disabled", "none", "":
		return kernel.PoolingDisabled, nil
	default:
		return 0, status.Newf(status.CnnErrorPoolType, "unknown pooling type %q", name)
	}
}

// paramPoolingType is optional; a missing value means PoolingDisabled.
func paramPoolingType(params map[int]any, index int) (kernel.PoolingType, error) {
	v, ok := params[index]
	if !ok || v == nil {
		return kernel.PoolingDisabled, nil
	}
	var (
		t   kernel.PoolingType
		err error
	)
	switch x := v.(type) {
	case kernel.PoolingType:
		t = x
	case string:
		t, err = ParsePoolingType(x)
		if err != nil {
			return 0, status.Tag(err, status.ItemParameter, index)
		}
	default:
		n, ok := toUint32(v)
		if !ok {
			return 0, status.Newf(status.CnnErrorPoolType, "pooling type %v", v).WithParameter(index)
		}
		t = kernel.PoolingType(n)
	}
	if t > kernel.PoolingSum {
		return 0, status.Newf(status.CnnErrorPoolType, "pooling type %d", t).WithParameter(index)
	}
	return t, nil
}

// paramBiasMode is optional; a missing value means BiasModeDefault.
func paramBiasMode(params map[int]any, index int) (BiasMode, error) {
	v, ok := params[index]
	if !ok || v == nil {
		return BiasModeDefault, nil
	}
	switch x := v.(type) {
	case BiasMode:
		if x <= BiasModeGrouped {
			return x, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "default", "":
			return BiasModeDefault, nil
		case "grouped", "per_stride", "multibias":
			return BiasModeGrouped, nil
		}
	default:
		if n, ok := toUint32(v); ok && n <= uint32(BiasModeGrouped) {
			return BiasMode(n), nil
		}
	}
	return 0, status.Newf(status.XnnErrorBiasMode, "bias mode %v", v).WithParameter(index)
}
