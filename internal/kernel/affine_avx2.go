//go:build goexperiment.simd && amd64

package kernel

import "simd/archsimd"

// VectorTier reports whether the AVX2 affine kernels are compiled in.
const VectorTier = true

// dotFlush bounds how many 16-element blocks accumulate in the int32 lanes
// before they are folded into the int64 sum. One block adds at most 2^23 per
// lane, so 255 blocks stay below 2^31.
const dotFlush = 255

func vectorAffine() (AffineKernel, AffineActiveListKernel) {
	return affineAVX2, affineActiveListAVX2
}

// affineAVX2 runs int16 inputs against int8 weights with VPMADDWD pairs.
// Inputs are de-interleaved once so every row reads contiguous columns.
func affineAVX2(e *Execution[AffineConfig]) {
	if !archsimd.X86.AVX2() {
		affineUnrolled[int16, int8](e)
		return
	}
	c := e.Config
	cols := columns(view[int16](e.Input), c.VectorCount, c.ElementCount)
	w := view[int8](c.Weights)
	out := view[int32](e.Output)
	n, k := c.VectorCount, c.ElementCount
	for m := range c.RowCount {
		affineRowAVX2(e, cols, w[m*k:(m+1)*k], out[m*n:(m+1)*n], m)
	}
}

func affineActiveListAVX2(e *Execution[AffineConfig], al ActiveListConfig) {
	if !archsimd.X86.AVX2() {
		affineActiveList[int16, int8](e, al)
		return
	}
	c := e.Config
	cols := columns(view[int16](e.Input), c.VectorCount, c.ElementCount)
	w := view[int8](c.Weights)
	out := view[int32](e.Output)
	n, k := c.VectorCount, c.ElementCount
	for i, m := range al.Indices {
		affineRowAVX2(e, cols, w[m*k:(m+1)*k], out[uint32(i)*n:(uint32(i)+1)*n], m)
	}
}

func affineRowAVX2(e *Execution[AffineConfig], cols [][]int16, row []int8, out []int32, m uint32) {
	bias, mult := biasAt(e.Config, m)
	for v, x := range cols {
		out[v] = e.Context.saturate32(dotInt8Int16AVX2(row, x)*mult + bias)
	}
}

func dotInt8Int16AVX2(row []int8, x []int16) int64 {
	k := len(row)
	var sum int64
	j := 0
	for j+16 <= k {
		var acc archsimd.Int32x8
		for b := 0; b < dotFlush && j+16 <= k; b++ {
			vw := archsimd.LoadInt8x16Slice(row[j:]).ExtendToInt16()
			vx := archsimd.LoadInt16x16Slice(x[j:])
			acc = acc.Add(vw.DotProductPairs(vx))
			j += 16
		}
		var tmp [8]int32
		acc.Store(&tmp)
		for _, t := range tmp {
			sum += int64(t)
		}
	}
	for ; j < k; j++ {
		sum += int64(row[j]) * int64(x[j])
	}
	return sum
}

// columns splits the interleaved input (element-major, vectors adjacent)
// into one contiguous slice per vector.
func columns(in []int16, n, k uint32) [][]int16 {
	buf := make([]int16, n*k)
	cols := make([][]int16, n)
	for v := range n {
		col := buf[v*k : (v+1)*k]
		for j := range k {
			col[j] = in[j*n+v]
		}
		cols[v] = col
	}
	return cols
}
