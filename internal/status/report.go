package status

import (
	"errors"
	"strings"
)

// Report accumulates validation failures for one model element. A layer
// constructor returns a Report instead of aborting at the first bad operand
// when the caller asked for every model error.
type Report struct {
	errs []*Error
}

// Add records err. Nested reports are flattened. A nil err is ignored.
func (r *Report) Add(err error) {
	if err == nil {
		return
	}
	var nested *Report
	if errors.As(err, &nested) {
		r.errs = append(r.errs, nested.errs...)
		return
	}
	r.errs = append(r.errs, Tag(err, ItemNone, 0))
}

// Merge appends every error of other.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.errs = append(r.errs, other.errs...)
}

func (r *Report) Len() int {
	return len(r.errs)
}

func (r *Report) Errors() []*Error {
	out := make([]*Error, len(r.errs))
	copy(out, r.errs)
	return out
}

// Err returns nil when empty, the only error when there is one, and the
// report itself otherwise.
func (r *Report) Err() error {
	switch len(r.errs) {
	case 0:
		return nil
	case 1:
		return r.errs[0]
	default:
		return r
	}
}

func (r *Report) Error() string {
	parts := make([]string, len(r.errs))
	for i, e := range r.errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

func (r *Report) Unwrap() []error {
	out := make([]error, len(r.errs))
	for i, e := range r.errs {
		out[i] = e
	}
	return out
}

// Check is one tagged validation step.
type Check struct {
	Item  Item
	Index int
	Run   func() error
}

// Operand builds a check tagged with an operand index.
func Operand(index int, run func() error) Check {
	return Check{Item: ItemOperand, Index: index, Run: run}
}

// Parameter builds a check tagged with a parameter index.
func Parameter(index int, run func() error) Check {
	return Check{Item: ItemParameter, Index: index, Run: run}
}

// Batch runs checks in order. Each failure is tagged with its check's item and
// index. Unless describeAll is set, Batch stops at the first failure.
func Batch(describeAll bool, checks ...Check) *Report {
	r := &Report{}
	for _, c := range checks {
		err := c.Run()
		if err == nil {
			continue
		}
		var nested *Report
		if errors.As(err, &nested) {
			for _, e := range nested.errs {
				r.errs = append(r.errs, Tag(e, c.Item, c.Index))
			}
		} else {
			r.errs = append(r.errs, Tag(err, c.Item, c.Index))
		}
		if !describeAll {
			break
		}
	}
	return r
}
