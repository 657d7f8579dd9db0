package kernel

import (
	"encoding/binary"
	"unsafe"

	"github.com/samcharles93/nnaccel/internal/tensor"
)

type element interface {
	int8 | int16 | int32
}

func view[T element](b []byte) []T {
	var z T
	n := len(b) / int(unsafe.Sizeof(z))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}

// biasAt returns the bias and multiplier applied to row m.
func biasAt(c *AffineConfig, m uint32) (bias, mult int64) {
	mult = 1
	stride := c.BiasVectorCount
	if stride == 0 {
		stride = 1
	}
	i := m*stride + c.BiasVectorIndex
	switch c.BiasMode.Type {
	case tensor.Int8:
		bias = int64(int8(c.Biases[i]))
	case tensor.Int16:
		bias = int64(int16(binary.LittleEndian.Uint16(c.Biases[2*i:])))
	case tensor.Int32:
		bias = int64(int32(binary.LittleEndian.Uint32(c.Biases[4*i:])))
	case tensor.CompoundBias:
		off := tensor.CompoundBiasSize * i
		bias = int64(int32(binary.LittleEndian.Uint32(c.Biases[off:])))
		mult = int64(c.Biases[off+4])
	}
	if c.WeightScales != nil {
		mult = int64(c.WeightScales[tensor.CompoundBiasSize*m+4])
	}
	return bias, mult
}

// affineRef is the reference matrix-vector kernel. It serves single and
// grouped bias layers; the config decides which bias element each row reads.
func affineRef[I, W int8 | int16](e *Execution[AffineConfig]) {
	c := e.Config
	in := view[I](e.Input)
	w := view[W](c.Weights)
	out := view[int32](e.Output)
	n, k := c.VectorCount, c.ElementCount
	for m := range c.RowCount {
		bias, mult := biasAt(c, m)
		row := w[m*k : (m+1)*k]
		for v := range n {
			var sum int64
			for j := range k {
				sum += int64(in[j*n+v]) * int64(row[j])
			}
			out[m*n+v] = e.Context.saturate32(sum*mult + bias)
		}
	}
}

// affineUnrolled produces the same results as affineRef with the inner
// product unrolled by four. It backs the SIMD tiers.
func affineUnrolled[I, W int8 | int16](e *Execution[AffineConfig]) {
	c := e.Config
	in := view[I](e.Input)
	w := view[W](c.Weights)
	out := view[int32](e.Output)
	n, k := c.VectorCount, c.ElementCount
	for m := range c.RowCount {
		affineRow(e, in, w[m*k:(m+1)*k], out[m*n:(m+1)*n], m)
	}
}

func affineRow[I, W int8 | int16](e *Execution[AffineConfig], in []I, row []W, out []int32, m uint32) {
	c := e.Config
	n, k := c.VectorCount, c.ElementCount
	bias, mult := biasAt(c, m)
	for v := range n {
		var s0, s1, s2, s3 int64
		j := uint32(0)
		for ; j+4 <= k; j += 4 {
			s0 += int64(in[j*n+v]) * int64(row[j])
			s1 += int64(in[(j+1)*n+v]) * int64(row[j+1])
			s2 += int64(in[(j+2)*n+v]) * int64(row[j+2])
			s3 += int64(in[(j+3)*n+v]) * int64(row[j+3])
		}
		for ; j < k; j++ {
			s0 += int64(in[j*n+v]) * int64(row[j])
		}
		out[v] = e.Context.saturate32((s0+s1+s2+s3)*mult + bias)
	}
}

// affineActiveList computes only the listed rows, writing them densely in
// list order.
func affineActiveList[I, W int8 | int16](e *Execution[AffineConfig], al ActiveListConfig) {
	c := e.Config
	in := view[I](e.Input)
	w := view[W](c.Weights)
	out := view[int32](e.Output)
	n, k := c.VectorCount, c.ElementCount
	for i, m := range al.Indices {
		affineRow(e, in, w[m*k:(m+1)*k], out[uint32(i)*n:(uint32(i)+1)*n], m)
	}
}

// affineDiagonal multiplies each input row by its single weight.
func affineDiagonal[I, W int8 | int16](e *Execution[AffineConfig]) {
	c := e.Config
	in := view[I](e.Input)
	w := view[W](c.Weights)
	out := view[int32](e.Output)
	n := c.VectorCount
	for m := range c.RowCount {
		bias, mult := biasAt(c, m)
		wm := int64(w[m])
		for v := range n {
			out[m*n+v] = e.Context.saturate32(int64(in[m*n+v])*wm*mult + bias)
		}
	}
}
