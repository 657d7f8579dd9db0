package kernel

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/status"
)

var (
	ErrKernelAlreadyRegistered = errors.New("kernel: already registered")
	ErrRegistryFrozen          = errors.New("kernel: registry is frozen")
	ErrNilKernel               = errors.New("kernel: nil kernel function")
	ErrAliasTarget             = errors.New("kernel: alias target not registered")
)

// Table maps acceleration modes to one kernel family's implementations for a
// single signature.
type Table[F any] struct {
	op  Op
	sig Signature
	fns [accel.Count]F
	has [accel.Count]bool
}

// At returns the implementation for mode.
func (t *Table[F]) At(mode accel.Mode) (F, error) {
	if mode < accel.Count && t.has[mode] {
		return t.fns[mode], nil
	}
	var zero F
	return zero, status.Newf(status.KernelNotImplemented, "%s %s has no %s kernel", t.op, t.sig, mode)
}

// Modes lists the populated modes in enum order.
func (t *Table[F]) Modes() []accel.Mode {
	var out []accel.Mode
	for m := accel.Mode(0); m < accel.Count; m++ {
		if t.has[m] {
			out = append(out, m)
		}
	}
	return out
}

func (t *Table[F]) Signature() Signature {
	return t.sig
}

type key struct {
	op  Op
	sig Signature
}

// Registry is keyed by (op, signature). It is filled at startup, frozen, and
// read concurrently without locks afterwards.
type Registry[F any] struct {
	name   string
	tables map[key]*Table[F]
	frozen bool
}

func NewRegistry[F any](name string) *Registry[F] {
	return &Registry[F]{name: name, tables: make(map[key]*Table[F])}
}

func (r *Registry[F]) Name() string {
	return r.name
}

// Register adds fn for (op, sig, mode). Registering a key twice fails.
func (r *Registry[F]) Register(op Op, sig Signature, mode accel.Mode, fn F) error {
	if r.frozen {
		return ErrRegistryFrozen
	}
	if v := reflect.ValueOf(fn); v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("%w: %s %s %s", ErrNilKernel, op, sig, mode)
	}
	if mode >= accel.Count {
		return fmt.Errorf("kernel: mode %d out of range", mode)
	}
	k := key{op, sig}
	t, ok := r.tables[k]
	if !ok {
		t = &Table[F]{op: op, sig: sig}
		r.tables[k] = t
	}
	if t.has[mode] {
		return fmt.Errorf("%w: %s %s %s", ErrKernelAlreadyRegistered, op, sig, mode)
	}
	t.fns[mode] = fn
	t.has[mode] = true
	return nil
}

// Alias makes sig resolve to the table already registered for target, so
// several data mode combinations share one set of implementations.
func (r *Registry[F]) Alias(op Op, sig, target Signature) error {
	if r.frozen {
		return ErrRegistryFrozen
	}
	t, ok := r.tables[key{op, target}]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrAliasTarget, op, target)
	}
	if _, exists := r.tables[key{op, sig}]; exists {
		return fmt.Errorf("%w: %s %s", ErrKernelAlreadyRegistered, op, sig)
	}
	r.tables[key{op, sig}] = t
	return nil
}

// Freeze rejects further registration.
func (r *Registry[F]) Freeze() {
	r.frozen = true
}

// Resolve returns the per-mode table for (op, sig).
func (r *Registry[F]) Resolve(op Op, sig Signature) (*Table[F], error) {
	t, ok := r.tables[key{op, sig}]
	if !ok {
		return nil, status.Newf(status.KernelNotSupported, "no %s kernel for %s", op, sig)
	}
	return t, nil
}

// Entry describes one registered key for inspection.
type Entry struct {
	Op        Op
	Signature Signature
	Modes     []accel.Mode
	// AliasOf is set when the key shares another signature's table.
	AliasOf *Signature
}

// Entries lists every key sorted by op then signature.
func (r *Registry[F]) Entries() []Entry {
	out := make([]Entry, 0, len(r.tables))
	for k, t := range r.tables {
		e := Entry{Op: k.op, Signature: k.sig, Modes: t.Modes()}
		if t.sig != k.sig {
			target := t.sig
			e.AliasOf = &target
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if a.Op != b.Op {
			return int(a.Op) - int(b.Op)
		}
		switch {
		case a.Signature < b.Signature:
			return -1
		case a.Signature > b.Signature:
			return 1
		}
		return 0
	})
	return out
}
