package model

import (
	"errors"
	"slices"
	"testing"

	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
)

func load(t *testing.T, path string) *Model {
	t.Helper()
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := load(t, "testdata/tiny.yaml")

	if m.Name() != "tiny" {
		t.Fatalf("name = %q", m.Name())
	}
	in, ok := m.Buffer("input")
	if !ok {
		t.Fatal("input buffer missing")
	}
	if got := in.Values(); got[0] != 1 || got[15] != 16 {
		t.Fatalf("ramp fill = %v", got)
	}
	if got := mustBuffer(t, m, "biases").Values(); !slices.Equal(got, []int64{0, 1, 2, 3}) {
		t.Fatalf("biases = %v", got)
	}

	ops := m.Operations()
	if len(ops) != 2 || ops[0].Name != "fc" || ops[1].Name != "pool" {
		t.Fatalf("operations = %+v", ops)
	}
	fc := ops[0].Descriptor
	if fc.Type != capability.Affine {
		t.Fatalf("fc type = %s", fc.Type)
	}
	w := fc.Operands[capability.WeightOperandIndex]
	if w.Mode != tensor.ModeInt8 || w.Layout != "HW" || len(w.Buffer) != 32 {
		t.Fatalf("weights = %+v", w)
	}

	pool := ops[1].Descriptor
	if pool.Type != capability.Convolution {
		t.Fatalf("pool type = %s", pool.Type)
	}
	if pool.Parameters[capability.PoolingModeParamIndex] != "max" {
		t.Fatalf("pooling mode = %v", pool.Parameters[capability.PoolingModeParamIndex])
	}
	act := pool.Operands[capability.ActivationOperandIndex]
	if act == nil || act.Mode != tensor.ModeInt32 || len(act.Buffer) != 24 {
		t.Fatalf("activation = %+v", act)
	}
	if _, ok := m.Buffer("pool.activation"); !ok {
		t.Fatal("activation buffer not registered")
	}
	if len(m.Regions()) != 6 {
		t.Fatalf("regions = %d", len(m.Regions()))
	}
	// The pooling input aliases the affine output.
	if &pool.Operands[capability.InputOperandIndex].Buffer[0] != &fc.Operands[capability.OutputOperandIndex].Buffer[0] {
		t.Fatal("hidden buffer not shared")
	}
}

func mustBuffer(t *testing.T, m *Model, name string) *Buffer {
	t.Helper()
	b, ok := m.Buffer(name)
	if !ok {
		t.Fatalf("buffer %q missing", name)
	}
	return b
}

const jsonModel = `{
  "name": "json",
  "buffers": [
    {"name": "in", "type": "int8", "count": 8, "fill": {"pattern": "random", "seed": 7, "min": -3, "max": 3}},
    {"name": "w", "type": "int16", "count": 8, "data": [1, 2, 3, 4, 5, 6, 7, 8]},
    {"name": "b", "type": "compound", "count": 1, "data": [5, 2]},
    {"name": "out", "type": "int32", "count": 1}
  ],
  "layers": [{
    "operation": "affine",
    "operands": {
      "input": {"buffer": "in", "layout": "HW", "shape": [8, 1]},
      "weights": {"buffer": "w", "layout": "HW", "shape": [1, 8]},
      "biases": {"buffer": "b", "layout": "H", "shape": [1]},
      "output": {"buffer": "out", "layout": "HW", "shape": [1, 1]}
    },
    "params": {"bias_mode": "default"},
    "active_list": [0]
  }]
}`

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m, err := Parse([]byte(jsonModel), FormatJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer m.Close()

	for _, v := range mustBuffer(t, m, "in").Values() {
		if v < -3 || v > 3 {
			t.Fatalf("random value %d out of range", v)
		}
	}
	b := mustBuffer(t, m, "b")
	if b.Values()[0] != 5 || b.Data[4] != 2 {
		t.Fatalf("compound = % x", b.Data)
	}
	ops := m.Operations()
	if ops[0].Name != "layer0" {
		t.Fatalf("default name = %q", ops[0].Name)
	}
	if ops[0].ActiveList == nil || ops[0].ActiveList.Count() != 1 {
		t.Fatalf("active list = %+v", ops[0].ActiveList)
	}
	if ops[0].Descriptor.Parameters[capability.BiasModeParamIndex] != "default" {
		t.Fatalf("params = %v", ops[0].Descriptor.Parameters)
	}
}

func TestRandomFillIsDeterministic(t *testing.T) {
	t.Parallel()
	a, err := Parse([]byte(jsonModel), FormatJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer a.Close()
	b, err := Parse([]byte(jsonModel), FormatJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer b.Close()
	if !slices.Equal(mustBuffer(t, a, "in").Values(), mustBuffer(t, b, "in").Values()) {
		t.Fatal("same seed produced different data")
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"no layers", "name: x\n", ErrNoLayers},
		{"duplicate buffer", `
buffers:
  - {name: a, type: int8, count: 8}
  - {name: a, type: int8, count: 8}
layers:
  - {operation: affine}
`, ErrDuplicateName},
		{"unknown buffer", `
layers:
  - operation: affine
    operands:
      input: {buffer: missing, layout: HW, shape: [8, 1]}
`, ErrUnknownBuffer},
		{"operand too big", `
buffers:
  - {name: a, type: int16, count: 8}
layers:
  - operation: affine
    operands:
      input: {buffer: a, layout: HW, shape: [8, 2]}
`, status.MemorySizeInvalid},
		{"unknown operation", `
layers:
  - {operation: softmax}
`, status.XnnErrorLyrOperation},
		{"unknown parameter", `
layers:
  - {operation: affine, params: {dropout: 1}}
`, status.ParameterAbsent},
		{"unsorted activation", `
layers:
  - operation: pooling
    activation:
      - {x: 5}
      - {x: 1}
`, status.ModelConfigurationInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, err := Parse([]byte(tc.doc), FormatYAML)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if m != nil {
				t.Fatal("model returned with an error")
			}
		})
	}
}

func TestBufferSpecErrors(t *testing.T) {
	t.Parallel()

	tests := []BufferSpec{
		{Name: "a", Type: "float", Count: 1},
		{Name: "a", Type: "disabled", Count: 1},
		{Name: "a", Type: "int8", Count: 0},
		{Name: "a", Type: "int8", Count: 2, Data: []int64{1}},
		{Name: "a", Type: "int8", Count: 1, Data: []int64{1}, Fill: &Fill{Pattern: "zero"}},
		{Name: "a", Type: "int8", Count: 1, Fill: &Fill{Pattern: "noise"}},
		{Name: "a", Type: "int8", Count: 1, Fill: &Fill{Pattern: "random", Min: 2, Max: 1}},
	}
	for i, spec := range tests {
		if b, err := newBuffer(spec); err == nil {
			t.Fatalf("case %d: expected an error, got %+v", i, b)
		}
	}
}

func TestBufferClamps(t *testing.T) {
	t.Parallel()
	b, err := newBuffer(BufferSpec{Name: "a", Type: "int8", Count: 3, Data: []int64{-500, 7, 500}})
	if err != nil {
		t.Fatalf("newBuffer: %v", err)
	}
	if got := b.Values(); !slices.Equal(got, []int64{-128, 7, 127}) {
		t.Fatalf("values = %v", got)
	}
	b.Zero()
	if got := b.Values(); !slices.Equal(got, []int64{0, 0, 0}) {
		t.Fatalf("after Zero = %v", got)
	}
}

func TestFormatOf(t *testing.T) {
	t.Parallel()
	if FormatOf("m.JSON") != FormatJSON || FormatOf("m.yml") != FormatYAML || FormatOf("m") != FormatYAML {
		t.Fatal("format detection")
	}
	if _, err := Decode(nil, "toml"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}
