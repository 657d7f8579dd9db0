package kernel

import (
	"fmt"
	"sync"

	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/tensor"
)

// Set groups the registries consulted by transforms.
type Set struct {
	Affine           *Registry[AffineKernel]
	AffineActiveList *Registry[AffineActiveListKernel]
	Pooling          *Registry[PoolingKernel]
}

// PoolingSignature is the only mode combination pooling kernels accept.
var PoolingSignature = NewSignature(tensor.ModeInt32, tensor.ModeDisabled, tensor.ModeDisabled)


// Default returns the process-wide kernel set, built once and frozen.
var Default = sync.OnceValue(func() *Set {
	s, err := Build()
	if err != nil {
		panic(fmt.Sprintf("kernel: building default set: %v", err))
	}
	return s
})

// Build registers every shipped kernel into a fresh, frozen Set.
func Build() (*Set, error) {
	s := &Set{
		Affine:           NewRegistry[AffineKernel]("affine"),
		AffineActiveList: NewRegistry[AffineActiveListKernel]("affine_active_list"),
		Pooling:          NewRegistry[PoolingKernel]("pooling"),
	}
	steps := []func(*Set) error{
		registerAffine[int8, int8],
		registerAffine[int8, int16],
		registerAffine[int16, int8],
		registerAffine[int16, int16],
		registerPooling,
	}
	for _, step := range steps {
		if err := step(s); err != nil {
			return nil, err
		}
	}
	s.Affine.Freeze()
	s.AffineActiveList.Freeze()
	s.Pooling.Freeze()
	return s, nil
}

func modeFor[T int8 | int16]() tensor.DataMode {
	var z T
	if any(z) == any(int8(0)) {
		return tensor.ModeInt8
	}
	return tensor.ModeInt16
}

func registerAffine[I, W int8 | int16](s *Set) error {
	in, w := modeFor[I](), modeFor[W]()
	primary := NewSignature(in, w, tensor.ModeInt32)

	dense, activeList := AffineKernel(affineUnrolled[I, W]), AffineActiveListKernel(affineActiveList[I, W])
	if in == tensor.ModeInt16 && w == tensor.ModeInt8 {
		dense, activeList = vectorAffine()
	}

	// Grouped and single bias layers run the same body.
	for _, op := range []Op{OpAffine, OpAffineMultiBias} {
		if err := register[AffineKernel](s.Affine, op, primary, affineRef[I, W], affineUnrolled[I, W], dense); err != nil {
			return err
		}
	}
	if err := register[AffineKernel](s.Affine, OpAffineDiagonal, primary, affineDiagonal[I, W], affineDiagonal[I, W], affineDiagonal[I, W]); err != nil {
		return err
	}
	if err := register[AffineActiveListKernel](s.AffineActiveList, OpAffineActiveList, primary, affineActiveList[I, W], affineActiveList[I, W], activeList); err != nil {
		return err
	}

	aliases := []tensor.DataMode{tensor.ModeInt8, tensor.ModeInt16, tensor.ModeDisabled}
	for _, op := range []Op{OpAffine, OpAffineDiagonal, OpAffineMultiBias} {
		for _, b := range aliases {
			if err := s.Affine.Alias(op, NewSignature(in, w, b), primary); err != nil {
				return err
			}
		}
	}

	// The compound bias multiplier only applies to 8-bit weights.
	if w == tensor.ModeInt8 {
		compound := NewSignature(in, w, tensor.ModeCompoundBias)
		for _, op := range []Op{OpAffine, OpAffineDiagonal} {
			if err := s.Affine.Alias(op, compound, primary); err != nil {
				return err
			}
		}
		if err := s.AffineActiveList.Alias(OpAffineActiveList, compound, primary); err != nil {
			return err
		}
	}
	return nil
}

// register fills every software tier of one table: generic, the SSE4 and
// AVX1 body, and the AVX2 body.
func register[F any](r *Registry[F], op Op, sig Signature, generic, simd, avx2 F) error {
	tiers := []struct {
		mode accel.Mode
		fn   F
	}{
		{accel.Generic, generic},
		{accel.SSE4, simd},
		{accel.AVX1, simd},
		{accel.AVX2, avx2},
	}
	for _, t := range tiers {
		if err := r.Register(op, sig, t.mode, t.fn); err != nil {
			return err
		}
	}
	return nil
}

func registerPooling(s *Set) error {
	return register[PoolingKernel](s.Pooling, OpPooling, PoolingSignature, poolingRef, poolingRef, poolingRef)
}

// Listing is one registry entry of a Set.
type Listing struct {
	Registry string
	Entry
}

// Describe lists the entries of every registry in s.
func (s *Set) Describe() []Listing {
	var out []Listing
	add := func(name string, entries []Entry) {
		for _, e := range entries {
			out = append(out, Listing{Registry: name, Entry: e})
		}
	}
	add(s.Affine.Name(), s.Affine.Entries())
	add(s.AffineActiveList.Name(), s.AffineActiveList.Entries())
	add(s.Pooling.Name(), s.Pooling.Entries())
	return out
}
