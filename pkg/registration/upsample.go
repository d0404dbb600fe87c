package registration

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/gonum/mat"

	"phasereg/pkg/fourier"
)

// UpsampledCorrelation evaluates the inverse DFT of the frequency-domain
// array data on a regionSize x regionSize grid with spacing 1/upsample
// pixels. Output element (s, r) is the correlation at
//
//	((s - offsets[0]) / upsample, (r - offsets[1]) / upsample)
//
// so an offset of regionSize/2 - shift*upsample centers the grid on shift.
// The sum is not normalized by the array size.
//
// The transform is computed as two matrix products instead of a zero-padded
// FFT. The column kernel uses exp(-2πi…) and is applied against dataᴴ; the
// row kernel uses exp(+2πi…) and is applied against the conjugate transpose
// of that intermediate. The two conjugations cancel, which is why the kernel
// signs differ; making them equal flips the sign of the result on one axis.
func UpsampledCorrelation(data *mat.CDense, regionSize, upsample int, offsets [2]float64) *mat.CDense {
	rows, cols := data.Dims()

	colKernel := dftKernel(regionSize, cols, upsample, offsets[1], -1)
	rowKernel := dftKernel(regionSize, rows, upsample, offsets[0], 1)

	// partial[r, m] = sum_n colKernel[r, n] * conj(data[m, n])
	partial := mat.NewCDense(regionSize, rows, nil)
	cblas128.Gemm(blas.NoTrans, blas.ConjTrans, 1,
		colKernel.RawCMatrix(), data.RawCMatrix(), 0, partial.RawCMatrix())

	// out[s, r] = sum_m rowKernel[s, m] * conj(partial[r, m])
	out := mat.NewCDense(regionSize, regionSize, nil)
	cblas128.Gemm(blas.NoTrans, blas.ConjTrans, 1,
		rowKernel.RawCMatrix(), partial.RawCMatrix(), 0, out.RawCMatrix())

	return out
}

// dftKernel builds K[r, f] = exp(sign * 2πi * (r - offset) * freq[f]) for an
// axis of length n sampled at 1/upsample pixel spacing.
func dftKernel(regionSize, n, upsample int, offset, sign float64) *mat.CDense {
	freqs := fourier.FFTFreq(n, float64(upsample))
	kernel := mat.NewCDense(regionSize, n, nil)
	for r := 0; r < regionSize; r++ {
		pos := float64(r) - offset
		for f, freq := range freqs {
			kernel.Set(r, f, cmplx.Exp(complex(0, sign*2*math.Pi*pos*freq)))
		}
	}
	return kernel
}
