// Package capability holds the static per-operation, per-operand rules a
// layer must satisfy and the structural validator that enforces them.
package capability

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
)

// Operation identifies a layer operation.
type Operation uint8

const (
	Affine Operation = iota + 1
	AffineDiagonal
	AffineMultiBias
	Convolution
)

func (o Operation) String() string {
	switch o {
	case Affine:
		return "affine"
	case AffineDiagonal:
		return "affine_diagonal"
	case AffineMultiBias:
		return "affine_multibias"
	case Convolution:
		return "convolution"
	default:
		return fmt.Sprintf("operation(%d)", uint8(o))
	}
}

// ParseOperation accepts the names printed by Operation.String.
func ParseOperation(name string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "affine", "fully_connected":
		return Affine, nil
	case "affine_diagonal", "diagonal":
		return AffineDiagonal, nil
	case "affine_multibias", "multibias":
		return AffineMultiBias, nil
	case "convolution", "pooling":
		return Convolution, nil
	default:
		return 0, status.Newf(status.XnnErrorLyrOperation, "unknown operation %q", name)
	}
}

// Operand indices shared by every operation.
const (
	InputOperandIndex             = 0
	OutputOperandIndex            = 1
	WeightOperandIndex            = 2
	BiasOperandIndex              = 3
	ActivationOperandIndex        = 4
	WeightScaleFactorOperandIndex = 5
)

// Parameter indices.
const (
	BiasVectorParamIndex = 0

	ConvolutionStrideParamIndex = 0
	BiasModeParamIndex          = 1
	PoolingModeParamIndex       = 2
	PoolingWindowParamIndex     = 3
	PoolingStrideParamIndex     = 4
)

// OperandName is used in diagnostics.
func OperandName(index int) string {
	switch index {
	case InputOperandIndex:
		return "input"
	case OutputOperandIndex:
		return "output"
	case WeightOperandIndex:
		return "weights"
	case BiasOperandIndex:
		return "biases"
	case ActivationOperandIndex:
		return "activation"
	case WeightScaleFactorOperandIndex:
		return "weight_scale_factors"
	default:
		return fmt.Sprintf("operand%d", index)
	}
}

// OperandIndex is the inverse of OperandName.
func OperandIndex(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "input":
		return InputOperandIndex, nil
	case "output":
		return OutputOperandIndex, nil
	case "weights", "weight":
		return WeightOperandIndex, nil
	case "biases", "bias":
		return BiasOperandIndex, nil
	case "activation":
		return ActivationOperandIndex, nil
	case "weight_scale_factors", "weight_scales", "scales":
		return WeightScaleFactorOperandIndex, nil
	default:
		return 0, status.Newf(status.OperandAbsent, "unknown operand %q", name)
	}
}

// Limit constrains one dimension. Multiple of 0 or 1 means any step.
type Limit struct {
	Min      uint32
	Max      uint32
	Multiple uint32
	Code     status.Code
}

func (l Limit) String() string {
	if l.Multiple > 1 {
		return fmt.Sprintf("[%d, %d] step %d", l.Min, l.Max, l.Multiple)
	}
	return fmt.Sprintf("[%d, %d]", l.Min, l.Max)
}

// Check validates one extent.
func (l Limit) Check(d tensor.Dim, extent uint32) error {
	if extent < l.Min || extent > l.Max {
		return status.Newf(l.Code, "dimension %s out of range", d).WithExpected(l.String(), extent)
	}
	if l.Multiple > 1 && extent%l.Multiple != 0 {
		return status.Newf(l.Code, "dimension %s not a multiple of %d", d, l.Multiple).WithExpected(l.String(), extent)
	}
	return nil
}

// ShapeLimits constrains every dimension of a shape.
type ShapeLimits map[tensor.Dim]Limit

// ValidateShape checks every dimension of s present in limits. Dimensions of
// s without a limit are rejected with the first limit's code.
func ValidateShape(s tensor.Shape, limits ShapeLimits) error {
	for _, d := range s.Dims() {
		l, ok := limits[d]
		if !ok {
			return status.Newf(anyCode(limits), "dimension %s not allowed", d)
		}
		extent, _ := s.At(d)
		if err := l.Check(d, extent); err != nil {
			return err
		}
	}
	return nil
}

func anyCode(limits ShapeLimits) status.Code {
	dims := make([]tensor.Dim, 0, len(limits))
	for d := range limits {
		dims = append(dims, d)
	}
	slices.Sort(dims)
	if len(dims) == 0 {
		return status.ShapeInvalid
	}
	return limits[dims[0]].Code
}

// Entry is the capability of one operand of one operation.
type Entry struct {
	Layouts    []string
	Modes      []tensor.DataMode
	Dims       ShapeLimits
	ModeCode   status.Code
	LayoutCode status.Code
}

// Validate checks shape and mode against the entry. Buffer contents are never
// inspected.
func (e *Entry) Validate(s tensor.Shape, m tensor.DataMode) error {
	if !slices.Contains(e.Modes, m) {
		return status.New(e.ModeCode, "data mode not permitted").WithExpected(modeList(e.Modes), m)
	}
	if m.IsDisabled() && s.Rank() == 0 {
		return nil
	}
	if len(e.Layouts) > 0 && !slices.Contains(e.Layouts, s.Layout()) {
		return status.New(e.LayoutCode, "layout not permitted").WithExpected(strings.Join(e.Layouts, "|"), s.Layout())
	}
	for _, d := range s.Dims() {
		l, ok := e.Dims[d]
		if !ok {
			continue
		}
		extent, _ := s.At(d)
		if err := l.Check(d, extent); err != nil {
			return err
		}
	}
	return nil
}

func modeList(modes []tensor.DataMode) string {
	parts := make([]string, len(modes))
	for i, m := range modes {
		parts[i] = m.String()
	}
	return strings.Join(parts, "|")
}

type key struct {
	op      Operation
	operand int
}

// Lookup returns the entry for an operation's operand.
func Lookup(op Operation, operand int) (*Entry, error) {
	e, ok := table[key{op, operand}]
	if !ok {
		return nil, status.Newf(status.XnnErrorLyrOperation,
			"no capability for %s operand %s", op, OperandName(operand))
	}
	return e, nil
}

// Validate checks a candidate shape and mode for an operation's operand. The
// returned error is tagged with the operand index.
func Validate(op Operation, operand int, s tensor.Shape, m tensor.DataMode) error {
	e, err := Lookup(op, operand)
	if err != nil {
		return status.Tag(err, status.ItemOperand, operand)
	}
	if err := e.Validate(s, m); err != nil {
		return status.Tag(err, status.ItemOperand, operand)
	}
	return nil
}

// Validator adapts Validate to tensor.New.
func Validator(op Operation, operand int) tensor.ValidateFunc {
	return func(s tensor.Shape, m tensor.DataMode) error {
		return Validate(op, operand, s, m)
	}
}

// Operands lists the operand indices with capabilities for op, in order.
func Operands(op Operation) []int {
	var out []int
	for k := range table {
		if k.op == op {
			out = append(out, k.operand)
		}
	}
	slices.Sort(out)
	return out
}

// Operations lists every operation with at least one capability entry.
func Operations() []Operation {
	seen := map[Operation]bool{}
	var out []Operation
	for k := range table {
		if !seen[k.op] {
			seen[k.op] = true
			out = append(out, k.op)
		}
	}
	slices.Sort(out)
	return out
}
