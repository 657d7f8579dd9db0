package status

import (
	"errors"
	"fmt"
	"strings"
)

// Item names the kind of model element an error refers to.
type Item int

const (
	ItemNone Item = iota
	ItemOperand
	ItemParameter
	ItemLayer
)

func (i Item) String() string {
	switch i {
	case ItemOperand:
		return "operand"
	case ItemParameter:
		return "parameter"
	case ItemLayer:
		return "layer"
	default:
		return "none"
	}
}

// Error is a structured domain error. Index is meaningful only when Item is
// not ItemNone.
type Error struct {
	Code     Code
	Item     Item
	Index    int
	Detail   string
	Expected string
	Actual   string
}

func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Item != ItemNone {
		fmt.Fprintf(&b, "%s %d: ", e.Item, e.Index)
	}
	b.WriteString(e.Code.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&b, " (expected %s, got %s)", e.Expected, e.Actual)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Code
}

// WithOperand returns a copy tagged with an operand index.
func (e *Error) WithOperand(index int) *Error {
	out := *e
	out.Item = ItemOperand
	out.Index = index
	return &out
}

// WithParameter returns a copy tagged with a parameter index.
func (e *Error) WithParameter(index int) *Error {
	out := *e
	out.Item = ItemParameter
	out.Index = index
	return &out
}

// WithExpected returns a copy carrying expected and actual values.
func (e *Error) WithExpected(expected, actual any) *Error {
	out := *e
	out.Expected = fmt.Sprint(expected)
	out.Actual = fmt.Sprint(actual)
	return &out
}

// CodeOf extracts the domain code from err. Errors that carry no code map to
// ModelConfigurationInvalid.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ModelConfigurationInvalid
}

// Tag attaches item/index to err. Errors that are not *Error are wrapped into
// one carrying their code.
func Tag(err error, item Item, index int) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		out := *se
		if out.Item == ItemNone {
			out.Item = item
			out.Index = index
		}
		return &out
	}
	return &Error{Code: CodeOf(err), Item: item, Index: index, Detail: err.Error()}
}
