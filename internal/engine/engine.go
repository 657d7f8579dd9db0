package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/driver"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/logger"
	"github.com/samcharles93/nnaccel/internal/request"
	"github.com/samcharles93/nnaccel/internal/status"
)

// Device is what the engine needs from an opened accelerator.
// *driver.Device implements it.
type Device interface {
	driver.Interface
	request.AddressResolver
}

// RunOptions selects acceleration modes. A forced Mode is used for every
// layer without fallback; otherwise each layer takes the first mode of
// Preference it has a kernel for. An empty Preference uses
// accel.Preference.
type RunOptions struct {
	Mode       accel.Mode
	Force      bool
	Preference []accel.Mode
}

func (o RunOptions) modes(hardware bool) []accel.Mode {
	if o.Force {
		return []accel.Mode{o.Mode}
	}
	if len(o.Preference) > 0 {
		return o.Preference
	}
	return accel.Preference(hardware)
}

// Result reports one executed layer. Layers submitted in the same hardware
// request share its Request id, Duration and Cycles.
type Result struct {
	Layer       int           `json:"layer"`
	Name        string        `json:"name"`
	Mode        string        `json:"mode"`
	Status      string        `json:"status"`
	Saturations uint32        `json:"saturations,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	Cycles      uint64        `json:"cycles,omitempty"`
	Request     *uuid.UUID    `json:"request,omitempty"`

	code status.Code
}

// Code is the domain status of the layer.
func (r Result) Code() status.Code {
	return r.code
}

// Engine runs a plan. Model regions are mapped once for the engine's
// lifetime; Close unmaps them but leaves the device open.
type Engine struct {
	plan   *Plan
	dev    Device
	mapped []driver.MemoryID
}

// New prepares plan for execution. With a device every region is mapped so
// the layers can be offloaded; dev may be nil for host-only runs.
func New(ctx context.Context, plan *Plan, regions [][]byte, dev Device) (*Engine, error) {
	if plan == nil || plan.Len() == 0 {
		return nil, status.New(status.NullArgumentNotAllowed, "plan is empty")
	}
	e := &Engine{plan: plan, dev: dev}
	if dev == nil {
		return e, nil
	}
	log := logger.Component(ctx, "engine")
	for i, r := range regions {
		id, err := dev.MemoryMap(r)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("engine: map region %d: %w", i, err)
		}
		e.mapped = append(e.mapped, id)
	}
	log.Debug("regions mapped", "count", len(e.mapped), "device", dev.Info().Name)
	return e, nil
}

// HasDevice reports whether the engine can offload layers.
func (e *Engine) HasDevice() bool {
	return e.dev != nil
}

// Close unmaps every region mapped by New.
func (e *Engine) Close() error {
	if e.dev == nil {
		return nil
	}
	var errs []error
	for _, id := range e.mapped {
		if err := e.dev.MemoryUnmap(id); err != nil {
			errs = append(errs, fmt.Errorf("unmap %d: %w", id, err))
		}
	}
	e.mapped = nil
	return errors.Join(errs...)
}

// Run executes every layer once. When Hardware is the preferred mode and a
// device is present, the whole plan goes out as one request; otherwise layers
// run on the host in order. Saturation is reported and logged, never fatal.
func (e *Engine) Run(ctx context.Context, opts RunOptions) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	modes := opts.modes(e.dev != nil)
	if len(modes) == 0 {
		return nil, status.New(status.KernelNotImplemented, "no acceleration mode to run")
	}
	if modes[0] == accel.Hardware {
		if e.dev != nil {
			return e.runHardware(ctx)
		}
		if opts.Force {
			return nil, status.New(status.DeviceNotFound, "hardware mode requires a device")
		}
	}
	return e.runSoftware(ctx, slices.DeleteFunc(slices.Clone(modes), func(m accel.Mode) bool {
		return !m.IsSoftware()
	}), opts.Force)
}

func (e *Engine) runHardware(ctx context.Context) ([]Result, error) {
	log := logger.Component(ctx, "engine")
	prof := &driver.Profiler{}
	prof.Mark(driver.Prepared)

	b := request.NewBuilder(e.dev)
	for _, l := range e.plan.layers {
		if err := b.Add(l.Transform, l.ActiveList); err != nil {
			return nil, &LayerError{Index: l.Index, Name: l.Name, Err: errors.Unwrap(err)}
		}
	}
	req, err := b.Build()
	if err != nil {
		return nil, err
	}
	res, err := e.dev.Submit(ctx, req, prof)
	if err != nil {
		return nil, fmt.Errorf("engine: request %s: %w", req.ID, err)
	}

	elapsed := prof.Between(driver.Prepared, driver.Completed)
	if res.Status == status.WarningArithmeticSaturation {
		log.Warn("saturation", "request", req.ID, "layers", req.LayerCount)
	}
	log.Debug("request completed", "request", req.ID, "layers", req.LayerCount,
		"duration", elapsed, "cycles", res.Timings.HardwareCycles)

	id := req.ID
	out := make([]Result, len(e.plan.layers))
	for i, l := range e.plan.layers {
		out[i] = Result{
			Layer:    l.Index,
			Name:     l.Name,
			Mode:     accel.Hardware.String(),
			Status:   res.Status.String(),
			Duration: elapsed,
			Cycles:   res.Timings.HardwareCycles,
			Request:  &id,
			code:     res.Status,
		}
	}
	return out, nil
}

func (e *Engine) runSoftware(ctx context.Context, modes []accel.Mode, force bool) ([]Result, error) {
	if len(modes) == 0 {
		return nil, status.New(status.KernelNotImplemented, "no software mode to run")
	}
	log := logger.Component(ctx, "engine")
	out := make([]Result, 0, len(e.plan.layers))
	for _, l := range e.plan.layers {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r, err := e.runLayer(l, modes, force)
		if err != nil {
			return out, &LayerError{Index: l.Index, Name: l.Name, Err: err}
		}
		if r.Saturations > 0 {
			log.Warn("saturation", "layer", l.Name, "mode", r.Mode, "count", r.Saturations)
		}
		log.Debug("layer computed", "layer", l.Name, "mode", r.Mode, "duration", r.Duration)
		out = append(out, r)
	}
	return out, nil
}

// runLayer tries modes in order, moving on only when a mode has no kernel.
func (e *Engine) runLayer(l Layer, modes []accel.Mode, force bool) (Result, error) {
	var last error
	for _, mode := range modes {
		exec := &kernel.ExecutionContext{}
		start := time.Now()
		err := l.Transform.Compute(mode, l.ActiveList, exec)
		if errors.Is(err, status.KernelNotImplemented) && !force {
			last = err
			continue
		}
		if err != nil {
			return Result{}, err
		}
		code := status.Success
		if exec.Saturations > 0 {
			code = status.WarningArithmeticSaturation
		}
		return Result{
			Layer:       l.Index,
			Name:        l.Name,
			Mode:        mode.String(),
			Status:      code.String(),
			Saturations: exec.Saturations,
			Duration:    time.Since(start),
			code:        code,
		}, nil
	}
	return Result{}, last
}
