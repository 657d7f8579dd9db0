// Package engine builds executable plans from model layers and runs them on
// the accelerator or on the host kernels, falling back between acceleration
// modes.
package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/model"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/transform"
)

// Layer is one configured step of a plan.
type Layer struct {
	Index      int
	Name       string
	Transform  transform.Transform
	ActiveList *transform.ActiveList
}

// Plan is the ordered list of configured layers. It is immutable once built.
type Plan struct {
	layers []Layer
}

// LayerError names the layer a failure belongs to.
type LayerError struct {
	Index int
	Name  string
	Err   error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("layer %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *LayerError) Unwrap() error {
	return e.Err
}

// NewTransform builds the transform for one operation descriptor.
func NewTransform(cfg transform.Config, op transform.OperationDescriptor) (transform.Transform, error) {
	switch op.Type {
	case capability.Convolution:
		return NewPoolingStage(cfg, op)
	default:
		return transform.NewAffine(cfg, op)
	}
}

// Build configures every operation. With cfg.DescribeAll it keeps going after
// a bad layer and returns all failures joined; otherwise it stops at the
// first.
func Build(cfg transform.Config, ops []model.Operation) (*Plan, error) {
	if len(ops) == 0 {
		return nil, status.New(status.ModelConfigurationInvalid, "no layers")
	}
	p := &Plan{layers: make([]Layer, 0, len(ops))}
	var errs []error
	for i, op := range ops {
		tr, err := NewTransform(cfg, op.Descriptor)
		if err == nil {
			err = tr.ValidateActiveList(op.ActiveList)
		}
		if err != nil {
			errs = append(errs, &LayerError{Index: i, Name: op.Name, Err: err})
			if !cfg.DescribeAll {
				break
			}
			continue
		}
		p.layers = append(p.layers, Layer{Index: i, Name: op.Name, Transform: tr, ActiveList: op.ActiveList})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return p, nil
}

// Layers returns the layers in execution order.
func (p *Plan) Layers() []Layer {
	out := make([]Layer, len(p.layers))
	copy(out, p.layers)
	return out
}

func (p *Plan) Len() int {
	return len(p.layers)
}

// Issue is one flattened validation failure.
type Issue struct {
	Layer   int    `json:"layer"`
	Name    string `json:"name"`
	Code    string `json:"code"`
	Item    string `json:"item,omitempty"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Issues flattens an error returned by Build into one entry per domain
// failure. Errors outside any layer carry Layer -1.
func Issues(err error) []Issue {
	var out []Issue
	var walk func(err error, layer int, name string)
	walk = func(err error, layer int, name string) {
		switch e := err.(type) {
		case *LayerError:
			walk(e.Err, e.Index, e.Name)
			return
		case interface{ Unwrap() []error }:
			inner := e.Unwrap()
			// An error unwrapping to a bare code is one failure, not a list.
			if !slices.ContainsFunc(inner, isCode) {
				for _, in := range inner {
					walk(in, layer, name)
				}
				return
			}
		}
		is := Issue{Layer: layer, Name: name, Code: status.CodeOf(err).String(), Message: err.Error()}
		var se *status.Error
		if errors.As(err, &se) && se.Item != status.ItemNone {
			is.Item = se.Item.String()
			is.Index = se.Index
		}
		out = append(out, is)
	}
	if err != nil {
		walk(err, -1, "")
	}
	return out
}

func isCode(err error) bool {
	_, ok := err.(status.Code)
	return ok
}
