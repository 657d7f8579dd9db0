package capability

import (
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
)

const (
	// InputElementsMultiple is the granularity of affine input vectors.
	InputElementsMultiple = 8
	InputElementsMin      = 8
	InputElementsMax      = 65528

	// VectorCountMax is the largest batch the hardware interleaves.
	VectorCountMax = 8

	OutputElementsMax = 65536

	BiasVectorCountMax = 8

	PoolSizeMin = 1
	PoolSizeMax = 6

	FiltersMax          = 1024
	OutputsPerFilterMax = 65536
)

var (
	inputModes  = []tensor.DataMode{tensor.ModeInt8, tensor.ModeInt16}
	weightModes = []tensor.DataMode{tensor.ModeInt8, tensor.ModeInt16}
	biasModes   = []tensor.DataMode{
		tensor.ModeInt8, tensor.ModeInt16, tensor.ModeInt32,
		tensor.ModeCompoundBias, tensor.ModeDisabled,
	}
	groupedBiasModes = []tensor.DataMode{tensor.ModeInt8, tensor.ModeInt16, tensor.ModeInt32}
)

func affineInput() *Entry {
	return &Entry{
		Layouts: []string{"HW"},
		Modes:   inputModes,
		Dims: ShapeLimits{
			tensor.DimH: {InputElementsMin, InputElementsMax, InputElementsMultiple, status.XnnErrorInputVolume},
			tensor.DimW: {1, VectorCountMax, 1, status.XnnErrorInputVolume},
		},
		ModeCode:   status.XnnErrorInputBytes,
		LayoutCode: status.XnnErrorInputVolume,
	}
}

func affineOutput() *Entry {
	return &Entry{
		Layouts: []string{"HW"},
		Modes:   []tensor.DataMode{tensor.ModeInt32},
		Dims: ShapeLimits{
			tensor.DimH: {1, OutputElementsMax, 1, status.XnnErrorOutputVolume},
			tensor.DimW: {1, VectorCountMax, 1, status.XnnErrorOutputVolume},
		},
		ModeCode:   status.XnnErrorOutputBytes,
		LayoutCode: status.XnnErrorOutputVolume,
	}
}

func affineBias(layout string) *Entry {
	return &Entry{
		Layouts: []string{layout},
		Modes:   biasModes,
		Dims: ShapeLimits{
			tensor.DimH: {1, OutputElementsMax, 1, status.XnnErrorBiasVolume},
		},
		ModeCode:   status.XnnErrorBiasBytes,
		LayoutCode: status.XnnErrorBiasVolume,
	}
}

var table = map[key]*Entry{
	{Affine, InputOperandIndex}:  affineInput(),
	{Affine, OutputOperandIndex}: affineOutput(),
	{Affine, WeightOperandIndex}: {
		Layouts: []string{"HW"},
		Modes:   weightModes,
		Dims: ShapeLimits{
			tensor.DimH: {1, OutputElementsMax, 1, status.XnnErrorWeightVolume},
			tensor.DimW: {InputElementsMin, InputElementsMax, InputElementsMultiple, status.XnnErrorWeightVolume},
		},
		ModeCode:   status.XnnErrorWeightBytes,
		LayoutCode: status.XnnErrorWeightVolume,
	},
	{Affine, BiasOperandIndex}: affineBias("H"),

	{AffineDiagonal, InputOperandIndex}:  affineInput(),
	{AffineDiagonal, OutputOperandIndex}: affineOutput(),
	{AffineDiagonal, WeightOperandIndex}: {
		Layouts: []string{"H"},
		Modes:   weightModes,
		Dims: ShapeLimits{
			tensor.DimH: {InputElementsMin, InputElementsMax, InputElementsMultiple, status.XnnErrorWeightVolume},
		},
		ModeCode:   status.XnnErrorWeightBytes,
		LayoutCode: status.XnnErrorWeightVolume,
	},
	{AffineDiagonal, BiasOperandIndex}: affineBias("H"),

	{AffineMultiBias, InputOperandIndex}:  affineInput(),
	{AffineMultiBias, OutputOperandIndex}: affineOutput(),
	{AffineMultiBias, WeightOperandIndex}: {
		Layouts: []string{"HW"},
		Modes:   weightModes,
		Dims: ShapeLimits{
			tensor.DimH: {1, OutputElementsMax, 1, status.XnnErrorWeightVolume},
			tensor.DimW: {InputElementsMin, InputElementsMax, InputElementsMultiple, status.XnnErrorWeightVolume},
		},
		ModeCode:   status.XnnErrorWeightBytes,
		LayoutCode: status.XnnErrorWeightVolume,
	},
	{AffineMultiBias, BiasOperandIndex}: {
		Layouts: []string{"HW"},
		Modes:   groupedBiasModes,
		Dims: ShapeLimits{
			tensor.DimH: {1, OutputElementsMax, 1, status.XnnErrorBiasVolume},
			tensor.DimW: {1, BiasVectorCountMax, 1, status.XnnErrorBiasVolume},
		},
		ModeCode:   status.XnnErrorBiasBytes,
		LayoutCode: status.XnnErrorBiasVolume,
	},
	{AffineMultiBias, WeightScaleFactorOperandIndex}: {
		Layouts: []string{"H"},
		Modes:   []tensor.DataMode{tensor.ModeCompoundBias},
		Dims: ShapeLimits{
			tensor.DimH: {1, OutputElementsMax, 1, status.XnnErrorBiasVolume},
		},
		ModeCode:   status.XnnErrorBiasBytes,
		LayoutCode: status.XnnErrorBiasVolume,
	},

	// Convolution entries cover the pooling stage only: its input is the
	// convolution's filter outputs.
	{Convolution, InputOperandIndex}: {
		Layouts: []string{"DW"},
		Modes:   []tensor.DataMode{tensor.ModeInt32},
		Dims: ShapeLimits{
			tensor.DimD: {1, FiltersMax, 1, status.XnnErrorInputVolume},
			tensor.DimW: {1, OutputsPerFilterMax, 1, status.XnnErrorInputVolume},
		},
		ModeCode:   status.XnnErrorInputBytes,
		LayoutCode: status.XnnErrorInputVolume,
	},
	{Convolution, OutputOperandIndex}: {
		Layouts: []string{"DW"},
		Modes:   []tensor.DataMode{tensor.ModeInt16, tensor.ModeInt32},
		Dims: ShapeLimits{
			tensor.DimD: {1, FiltersMax, 1, status.XnnErrorOutputVolume},
			tensor.DimW: {1, OutputsPerFilterMax, 1, status.XnnErrorOutputVolume},
		},
		ModeCode:   status.XnnErrorOutputBytes,
		LayoutCode: status.XnnErrorOutputVolume,
	},
}

// PoolingWindowLimits and PoolingStrideLimits are validated independently so
// a bad window and a bad stride surface as two parameter errors.
var (
	PoolingWindowLimits = map[Operation]ShapeLimits{
		Convolution: {tensor.DimW: {PoolSizeMin, PoolSizeMax, 1, status.CnnErrorPoolSize}},
	}
	PoolingStrideLimits = map[Operation]ShapeLimits{
		Convolution: {tensor.DimW: {PoolSizeMin, PoolSizeMax, 1, status.CnnErrorPoolStride}},
	}
)
