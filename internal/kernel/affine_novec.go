//go:build !goexperiment.simd || !amd64

package kernel

// VectorTier reports whether the AVX2 affine kernels are compiled in.
const VectorTier = false

func vectorAffine() (AffineKernel, AffineActiveListKernel) {
	return affineUnrolled[int16, int8], affineActiveList[int16, int8]
}
