package transform

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
)

const (
	testRows     = 4
	testElements = 8
	testVectors  = 2
)

// affineDescriptor builds a 4x8 affine layer over two vectors of ones. Row m
// has weights m+1 and bias m, so output row m is 9m+8.
func affineDescriptor() OperationDescriptor {
	input := make([]int16, testElements*testVectors)
	for i := range input {
		input[i] = 1
	}
	weights := make([]byte, testRows*testElements)
	for m := range testRows {
		for k := range testElements {
			weights[m*testElements+k] = byte(m + 1)
		}
	}
	biases := make([]int32, testRows)
	for m := range biases {
		biases[m] = int32(m)
	}
	return OperationDescriptor{
		Type: capability.Affine,
		Operands: map[int]*OperandDescriptor{
			capability.InputOperandIndex:  {Layout: "HW", Shape: []uint32{testElements, testVectors}, Mode: tensor.ModeInt16, Buffer: tensor.Bytes16(input)},
			capability.OutputOperandIndex: {Layout: "HW", Shape: []uint32{testRows, testVectors}, Mode: tensor.ModeInt32},
			capability.WeightOperandIndex: {Layout: "HW", Shape: []uint32{testRows, testElements}, Mode: tensor.ModeInt8, Buffer: weights},
			capability.BiasOperandIndex:   {Layout: "H", Shape: []uint32{testRows}, Mode: tensor.ModeInt32, Buffer: tensor.Bytes32(biases)},
		},
		Parameters: map[int]any{},
	}
}

func multiBiasDescriptor(withScales bool) OperationDescriptor {
	op := affineDescriptor()
	op.Type = capability.AffineMultiBias
	grouped := make([]int32, testRows*2)
	for m := range testRows {
		grouped[m*2+1] = int32(m)
	}
	op.Operands[capability.BiasOperandIndex] = &OperandDescriptor{
		Layout: "HW", Shape: []uint32{testRows, 2}, Mode: tensor.ModeInt32, Buffer: tensor.Bytes32(grouped),
	}
	op.Parameters[capability.BiasVectorParamIndex] = 1
	scales := &OperandDescriptor{Mode: tensor.ModeDisabled}
	if withScales {
		scales = &OperandDescriptor{
			Layout: "H", Shape: []uint32{testRows}, Mode: tensor.ModeCompoundBias,
			Buffer: compoundBuffer(testRows, func(m int) (int32, uint8) { return 0, 2 }),
		}
	}
	op.Operands[capability.WeightScaleFactorOperandIndex] = scales
	return op
}

func compoundBuffer(rows int, fn func(m int) (int32, uint8)) []byte {
	buf := tensor.Bytes32(make([]int32, rows*2))
	for m := range rows {
		bias, mult := fn(m)
		binary.LittleEndian.PutUint32(buf[m*8:], uint32(bias))
		buf[m*8+4] = mult
	}
	return buf
}

func output(t *testing.T, tr Transform) []int32 {
	t.Helper()
	out, err := tr.Operand(capability.OutputOperandIndex)
	if err != nil {
		t.Fatal(err)
	}
	return out.Int32s()
}

func TestAffineCompute(t *testing.T) {
	t.Parallel()

	a, err := NewAffine(Config{}, affineDescriptor())
	if err != nil {
		t.Fatalf("NewAffine: %v", err)
	}
	for _, mode := range []accel.Mode{accel.Generic, accel.SSE4, accel.AVX2} {
		ctx := &kernel.ExecutionContext{}
		if err := a.Compute(mode, nil, ctx); err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		want := []int32{8, 8, 17, 17, 26, 26, 35, 35}
		if got := output(t, a); !slices.Equal(got, want) {
			t.Fatalf("%s: got %v want %v", mode, got, want)
		}
	}
	if err := a.Compute(accel.Hardware, nil, nil); !errors.Is(err, status.KernelNotImplemented) {
		t.Fatalf("hardware: expected KernelNotImplemented, got %v", err)
	}
}

func TestAffineWithoutBias(t *testing.T) {
	t.Parallel()

	op := affineDescriptor()
	delete(op.Operands, capability.BiasOperandIndex)
	a, err := NewAffine(Config{}, op)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Compute(accel.Generic, nil, nil); err != nil {
		t.Fatal(err)
	}
	if got := output(t, a); got[0] != 8 || got[6] != 32 {
		t.Fatalf("got %v", got)
	}
}

func TestActiveListBounds(t *testing.T) {
	t.Parallel()

	a, err := NewAffine(Config{}, affineDescriptor())
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		indices []uint32
		wantErr bool
	}{
		{"empty", []uint32{}, true},
		{"one", []uint32{2}, false},
		{"all rows", []uint32{0, 1, 2, 3}, false},
		{"rows plus one", []uint32{0, 1, 2, 3, 0}, true},
		{"index out of range", []uint32{4}, true},
	}
	for _, tc := range tests {
		err := a.ValidateActiveList(&ActiveList{Indices: tc.indices})
		if tc.wantErr {
			if !errors.Is(err, status.ActiveListIndicesInvalid) {
				t.Errorf("%s: expected ActiveListIndicesInvalid, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestActiveListCompute(t *testing.T) {
	t.Parallel()

	a, err := NewAffine(Config{}, affineDescriptor())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Compute(accel.Generic, &ActiveList{Indices: []uint32{3, 0}}, nil); err != nil {
		t.Fatal(err)
	}
	got := output(t, a)[:4]
	if want := []int32{35, 35, 8, 8}; !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestActiveListRequiresWideBias(t *testing.T) {
	t.Parallel()

	op := affineDescriptor()
	op.Operands[capability.BiasOperandIndex] = &OperandDescriptor{
		Layout: "H", Shape: []uint32{testRows}, Mode: tensor.ModeInt16, Buffer: tensor.Bytes16(make([]int16, testRows)),
	}
	a, err := NewAffine(Config{}, op)
	if err != nil {
		t.Fatal(err)
	}
	err = a.ValidateActiveList(&ActiveList{Indices: []uint32{0}})
	if !errors.Is(err, status.ModelConfigurationInvalid) {
		t.Fatalf("expected ModelConfigurationInvalid, got %v", err)
	}
}

func TestCompoundBias(t *testing.T) {
	t.Parallel()

	op := affineDescriptor()
	op.Operands[capability.BiasOperandIndex] = &OperandDescriptor{
		Layout: "H", Shape: []uint32{testRows}, Mode: tensor.ModeCompoundBias,
		Buffer: compoundBuffer(testRows, func(m int) (int32, uint8) { return 1, 2 }),
	}
	a, err := NewAffine(Config{}, op)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Compute(accel.Generic, &ActiveList{Indices: []uint32{1}}, nil); err != nil {
		t.Fatal(err)
	}
	if got := output(t, a)[:2]; got[0] != 33 || got[1] != 33 {
		t.Fatalf("got %v, want 16*2+1", got)
	}
}

func TestCompoundBiasNeedsByteWeights(t *testing.T) {
	t.Parallel()

	op := affineDescriptor()
	op.Operands[capability.WeightOperandIndex] = &OperandDescriptor{
		Layout: "HW", Shape: []uint32{testRows, testElements}, Mode: tensor.ModeInt16,
		Buffer: tensor.Bytes16(make([]int16, testRows*testElements)),
	}
	op.Operands[capability.BiasOperandIndex] = &OperandDescriptor{
		Layout: "H", Shape: []uint32{testRows}, Mode: tensor.ModeCompoundBias,
		Buffer: compoundBuffer(testRows, func(int) (int32, uint8) { return 0, 1 }),
	}
	if _, err := NewAffine(Config{}, op); !errors.Is(err, status.KernelNotSupported) {
		t.Fatalf("expected KernelNotSupported, got %v", err)
	}
}

func TestMultiBiasWeightScales(t *testing.T) {
	t.Parallel()

	a, err := NewAffine(Config{}, multiBiasDescriptor(false))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Operand(capability.WeightScaleFactorOperandIndex); !errors.Is(err, status.OperandAbsent) {
		t.Fatalf("expected OperandAbsent, got %v", err)
	}

	a, err = NewAffine(Config{}, multiBiasDescriptor(true))
	if err != nil {
		t.Fatal(err)
	}
	scales, err := a.Operand(capability.WeightScaleFactorOperandIndex)
	if err != nil || scales == nil {
		t.Fatalf("scales = %v, %v", scales, err)
	}
	if err := a.Compute(accel.Generic, nil, nil); err != nil {
		t.Fatal(err)
	}
	want := []int32{16, 16, 33, 33, 50, 50, 67, 67}
	if got := output(t, a); !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if err := a.ValidateActiveList(&ActiveList{Indices: []uint32{0}}); !errors.Is(err, status.ModelConfigurationInvalid) {
		t.Fatalf("multibias active list: %v", err)
	}
	if params := a.Params(); len(params) != 2 || params[1].Value != 1 {
		t.Fatalf("params = %v", params)
	}
}

func TestMultiBiasFromBiasModeParam(t *testing.T) {
	t.Parallel()

	op := multiBiasDescriptor(false)
	op.Type = capability.Affine
	op.Parameters[capability.BiasModeParamIndex] = "grouped"
	a, err := NewAffine(Config{}, op)
	if err != nil {
		t.Fatal(err)
	}
	if a.Operation() != capability.AffineMultiBias {
		t.Fatalf("operation = %s", a.Operation())
	}
}

func TestMultiBiasIndexOutOfRange(t *testing.T) {
	t.Parallel()

	op := multiBiasDescriptor(false)
	op.Parameters[capability.BiasVectorParamIndex] = 2
	_, err := NewAffine(Config{}, op)
	var se *status.Error
	if !errors.As(err, &se) || se.Code != status.XnnErrorBiasIndex || se.Item != status.ItemParameter || se.Index != 0 {
		t.Fatalf("expected XnnErrorBiasIndex on parameter 0, got %v", err)
	}
}

func TestMultiBiasScalesNeedByteWeights(t *testing.T) {
	t.Parallel()

	op := multiBiasDescriptor(true)
	op.Operands[capability.WeightOperandIndex] = &OperandDescriptor{
		Layout: "HW", Shape: []uint32{testRows, testElements}, Mode: tensor.ModeInt16,
		Buffer: tensor.Bytes16(make([]int16, testRows*testElements)),
	}
	_, err := NewAffine(Config{}, op)
	if !errors.Is(err, status.ModelConfigurationInvalid) {
		t.Fatalf("expected ModelConfigurationInvalid, got %v", err)
	}
}

func TestDescribeAllCollectsOperands(t *testing.T) {
	t.Parallel()

	op := affineDescriptor()
	op.Operands[capability.InputOperandIndex].Shape = []uint32{7, testVectors}
	op.Operands[capability.WeightOperandIndex].Mode = tensor.ModeInt32

	_, err := NewAffine(Config{}, op)
	var se *status.Error
	if !errors.As(err, &se) || se.Index != capability.InputOperandIndex {
		t.Fatalf("first failure: %v", err)
	}

	_, err = NewAffine(Config{DescribeAll: true}, op)
	var report *status.Report
	if !errors.As(err, &report) || report.Len() != 2 {
		t.Fatalf("expected two errors, got %v", err)
	}
	errs := report.Errors()
	if errs[0].Code != status.XnnErrorInputVolume || errs[0].Index != capability.InputOperandIndex {
		t.Fatalf("input error = %v", errs[0])
	}
	if errs[1].Code != status.XnnErrorWeightBytes || errs[1].Index != capability.WeightOperandIndex {
		t.Fatalf("weight error = %v", errs[1])
	}
}

func TestVolumeMismatch(t *testing.T) {
	t.Parallel()

	op := affineDescriptor()
	op.Operands[capability.WeightOperandIndex].Shape = []uint32{testRows, 16}
	op.Operands[capability.WeightOperandIndex].Buffer = make([]byte, testRows*16)
	if _, err := NewAffine(Config{}, op); !errors.Is(err, status.XnnErrorWeightVolume) {
		t.Fatalf("expected XnnErrorWeightVolume, got %v", err)
	}

	op = affineDescriptor()
	op.Operands[capability.BiasOperandIndex].Shape = []uint32{2}
	if _, err := NewAffine(Config{}, op); !errors.Is(err, status.XnnErrorBiasVolume) {
		t.Fatalf("expected XnnErrorBiasVolume, got %v", err)
	}
}

func TestMissingOperand(t *testing.T) {
	t.Parallel()

	op := affineDescriptor()
	delete(op.Operands, capability.WeightOperandIndex)
	if _, err := NewAffine(Config{}, op); !errors.Is(err, status.OperandAbsent) {
		t.Fatalf("expected OperandAbsent, got %v", err)
	}
}

func TestDiagonal(t *testing.T) {
	t.Parallel()

	input := make([]int16, testElements)
	for i := range input {
		input[i] = int16(i)
	}
	weights := make([]byte, testElements)
	for i := range weights {
		weights[i] = 2
	}
	op := OperationDescriptor{
		Type: capability.AffineDiagonal,
		Operands: map[int]*OperandDescriptor{
			capability.InputOperandIndex:  {Layout: "HW", Shape: []uint32{testElements, 1}, Mode: tensor.ModeInt16, Buffer: tensor.Bytes16(input)},
			capability.OutputOperandIndex: {Layout: "HW", Shape: []uint32{testElements, 1}, Mode: tensor.ModeInt32},
			capability.WeightOperandIndex: {Layout: "H", Shape: []uint32{testElements}, Mode: tensor.ModeInt8, Buffer: weights},
		},
	}
	a, err := NewAffine(Config{}, op)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Compute(accel.Generic, nil, nil); err != nil {
		t.Fatal(err)
	}
	if got := output(t, a); got[7] != 14 {
		t.Fatalf("got %v", got)
	}
	if err := a.ValidateActiveList(&ActiveList{Indices: []uint32{0}}); !errors.Is(err, status.ModelConfigurationInvalid) {
		t.Fatalf("diagonal active list: %v", err)
	}
}

func poolingOp(typ any, window, stride any) OperationDescriptor {
	return OperationDescriptor{
		Type: capability.Convolution,
		Parameters: map[int]any{
			capability.PoolingModeParamIndex:   typ,
			capability.PoolingWindowParamIndex: window,
			capability.PoolingStrideParamIndex: stride,
		},
	}
}

func TestPoolingOutputShape(t *testing.T) {
	t.Parallel()

	input := tensor.MustShape("DW", 2, 7)
	tests := []struct {
		window, stride uint32
		want           uint32
	}{
		{3, 2, 4},
		{3, 1, 7},
		{2, 3, 3},
		{6, 6, 2},
	}
	for _, tc := range tests {
		p, err := NewPooling(Config{}, poolingOp("max", tc.window, tc.stride), input, tensor.ModeInt32)
		if err != nil {
			t.Fatalf("window=%d stride=%d: %v", tc.window, tc.stride, err)
		}
		if p.OutputsPerFilter() != tc.want {
			t.Errorf("window=%d stride=%d: got %d want %d", tc.window, tc.stride, p.OutputsPerFilter(), tc.want)
		}
		if d, _ := p.OutputShape().At(tensor.DimD); d != 2 {
			t.Errorf("depth changed to %d", d)
		}
	}
}

func TestPoolingDisabled(t *testing.T) {
	t.Parallel()

	input := tensor.MustShape("DW", 1, 7)
	p, err := NewPooling(Config{}, poolingOp("disabled", 0, 0), input, tensor.ModeInt32)
	if err != nil || p != nil {
		t.Fatalf("expected no stage, got %v, %v", p, err)
	}
	p, err = NewPoolingLegacy(Config{}, LegacyConvolution{PoolType: kernel.PoolingDisabled}, input, tensor.ModeInt32)
	if err != nil || p != nil {
		t.Fatalf("legacy: expected no stage, got %v, %v", p, err)
	}
}

func TestPoolingWindowAndStrideReportedSeparately(t *testing.T) {
	t.Parallel()

	input := tensor.MustShape("DW", 1, 32)
	_, err := NewPooling(Config{DescribeAll: true}, poolingOp("sum", 7, 9), input, tensor.ModeInt32)
	var report *status.Report
	if !errors.As(err, &report) || report.Len() != 2 {
		t.Fatalf("expected two errors, got %v", err)
	}
	errs := report.Errors()
	if errs[0].Code != status.CnnErrorPoolSize || errs[0].Item != status.ItemParameter || errs[0].Index != capability.PoolingWindowParamIndex {
		t.Fatalf("window error = %v", errs[0])
	}
	if errs[1].Code != status.CnnErrorPoolStride || errs[1].Index != capability.PoolingStrideParamIndex {
		t.Fatalf("stride error = %v", errs[1])
	}
}

func TestPoolingZeroWindowAndStrideUseLimitCodes(t *testing.T) {
	t.Parallel()

	input := tensor.MustShape("DW", 1, 32)
	check := func(name string, err error) {
		t.Helper()
		var report *status.Report
		if !errors.As(err, &report) || report.Len() != 2 {
			t.Fatalf("%s: expected two errors, got %v", name, err)
		}
		errs := report.Errors()
		if errs[0].Code != status.CnnErrorPoolSize || errs[0].Index != capability.PoolingWindowParamIndex {
			t.Fatalf("%s: window error = %v", name, errs[0])
		}
		if errs[1].Code != status.CnnErrorPoolStride || errs[1].Index != capability.PoolingStrideParamIndex {
			t.Fatalf("%s: stride error = %v", name, errs[1])
		}
	}

	_, err := NewPooling(Config{DescribeAll: true}, poolingOp("max", 0, 0), input, tensor.ModeInt32)
	check("generic", err)
	_, err = NewPoolingLegacy(Config{DescribeAll: true}, LegacyConvolution{PoolType: kernel.PoolingMax}, input, tensor.ModeInt32)
	check("legacy", err)

	_, err = NewPooling(Config{}, poolingOp("sum", 0, 1), input, tensor.ModeInt32)
	if !errors.Is(err, status.CnnErrorPoolSize) {
		t.Fatalf("single zero window = %v", err)
	}
}

func TestPoolingModeOptional(t *testing.T) {
	t.Parallel()

	op := OperationDescriptor{Type: capability.Convolution}
	p, err := NewPooling(Config{}, op, tensor.MustShape("DW", 1, 8), tensor.ModeInt32)
	if err != nil || p != nil {
		t.Fatalf("NewPooling without parameters = %v, %v", p, err)
	}
}

func TestPoolingLegacyMatchesGeneric(t *testing.T) {
	t.Parallel()

	input := tensor.MustShape("DW", 3, 10)
	a, err := NewPooling(Config{}, poolingOp(uint32(kernel.PoolingSum), []any{3.0}, []int{2}), input, tensor.ModeInt32)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewPoolingLegacy(Config{}, LegacyConvolution{PoolType: kernel.PoolingSum, PoolSize: 3, PoolStride: 2}, input, tensor.ModeInt32)
	if err != nil {
		t.Fatal(err)
	}
	if a.Type() != b.Type() || !a.Window().Equal(b.Window()) || !a.Stride().Equal(b.Stride()) || !a.OutputShape().Equal(b.OutputShape()) {
		t.Fatalf("generic %v/%v/%v, legacy %v/%v/%v", a.Window(), a.Stride(), a.OutputShape(), b.Window(), b.Stride(), b.OutputShape())
	}
}

func TestPoolingCompute(t *testing.T) {
	t.Parallel()

	input := tensor.MustShape("DW", 1, 7)
	p, err := NewPooling(Config{}, poolingOp("max", 3, 2), input, tensor.ModeInt32)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]int32, p.OutputsPerFilter())
	conv := &kernel.ConvolutionConfig{
		Filters: 1, InputsPerFilter: 7, OutputsPerFilter: p.OutputsPerFilter(),
		Inputs:     tensor.Bytes32([]int32{1, 5, 2, 8, 3, 0, 7}),
		Outputs:    tensor.Bytes32(out),
		OutputMode: tensor.ModeInt32,
	}
	if err := p.Compute(conv, accel.Generic, make([]int64, 1), nil); !errors.Is(err, status.MemorySizeInvalid) {
		t.Fatalf("short scratch: %v", err)
	}
	if err := p.Compute(conv, accel.Generic, make([]int64, p.OutputsPerFilter()), nil); err != nil {
		t.Fatal(err)
	}
	if want := []int32{5, 8, 7, 7}; !slices.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
	if err := p.Compute(conv, accel.Hardware, make([]int64, 4), nil); !errors.Is(err, status.KernelNotImplemented) {
		t.Fatalf("hardware: %v", err)
	}
}

func TestPoolingBadType(t *testing.T) {
	t.Parallel()

	input := tensor.MustShape("DW", 1, 7)
	if _, err := NewPooling(Config{}, poolingOp("avg", 3, 2), input, tensor.ModeInt32); !errors.Is(err, status.CnnErrorPoolType) {
		t.Fatalf("expected CnnErrorPoolType, got %v", err)
	}
}
