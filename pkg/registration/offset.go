// Package registration estimates sub-pixel translations between images by
// phase correlation and applies them with the Fourier shift theorem.
//
// The coarse shift comes from the peak of the inverse transform of the
// normalized cross-power spectrum. When an upsample factor u > 1 is given,
// the correlation surface is re-evaluated around that peak on a grid 1/u
// pixel apart with a small matrix-multiply DFT (see UpsampledCorrelation),
// which costs O(u*N) instead of the O(u^2 N log N) of a zero-padded FFT.
//
// All indices are zero-based. Shifts are (dy, dx): rows first, then columns.
package registration

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/gonum/mat"

	"phasereg/pkg/fourier"
)

// spectrumFloor bounds cross-power magnitudes away from zero during
// normalization: 100 machine epsilons of float64.
const spectrumFloor = 100 * 0x1p-52

// Result is the outcome of a single offset estimate.
type Result struct {
	// Shift is the (dy, dx) translation that moves target onto source.
	Shift [2]float64

	// Error is 1 - |peak|^2 / (mean|S|^2 * mean|T|^2). It is an
	// approximation and can leave [0, 1] for inputs whose spectra are far
	// from unit amplitude. The refined peak of an upsampled estimate is
	// divided by rows*cols so it sits at the inverse-transform scale of the
	// whole-pixel peak, and both precisions report the same statistic.
	Error float64

	// PhaseDiff is the global phase of the correlation peak in radians.
	PhaseDiff float64
}

// PhaseOffset estimates the shift between two real images of equal shape.
// Both images are forward-transformed with one plan from the shared
// fourier.DefaultPlanner.
//
// Parameters:
//   - source: the reference image
//   - target: the image to be registered against source
//   - upsample: 1 for whole-pixel precision, u > 1 for 1/u-pixel precision
func PhaseOffset(source, target mat.Matrix, upsample int) (Result, error) {
	if err := checkUpsample(upsample); err != nil {
		return Result{}, err
	}
	rows, cols, err := sameShape(source, target)
	if err != nil {
		return Result{}, err
	}

	plan := fourier.DefaultPlanner.Get(rows, cols)
	defer fourier.DefaultPlanner.Put(plan)

	sourceFreq := plan.ForwardReal(nil, source)
	targetFreq := plan.ForwardReal(nil, target)
	return PhaseOffsetFreq(plan, sourceFreq, targetFreq, upsample)
}

// PhaseOffsetFreq estimates the shift between two spectra that are already in
// the frequency domain. plan must match the spectra's shape; if it is nil a
// plan is taken from fourier.DefaultPlanner. Neither spectrum is modified.
func PhaseOffsetFreq(plan *fourier.Plan, sourceFreq, targetFreq *mat.CDense, upsample int) (Result, error) {
	if err := checkUpsample(upsample); err != nil {
		return Result{}, err
	}
	rows, cols := sourceFreq.Dims()
	if tr, tc := targetFreq.Dims(); tr != rows || tc != cols {
		return Result{}, fmt.Errorf("%w: source spectrum is %dx%d, target spectrum is %dx%d",
			ErrShapeMismatch, rows, cols, tr, tc)
	}
	if plan == nil {
		plan = fourier.DefaultPlanner.Get(rows, cols)
		defer fourier.DefaultPlanner.Put(plan)
	} else if pr, pc := plan.Shape(); pr != rows || pc != cols {
		return Result{}, fmt.Errorf("%w: plan is %dx%d, spectra are %dx%d",
			ErrShapeMismatch, pr, pc, rows, cols)
	}

	product := crossPowerSpectrum(sourceFreq, targetFreq)

	// The refinement step needs the spectrum again, so only the whole-pixel
	// path may transform it in place.
	var correlation *mat.CDense
	if upsample == 1 {
		correlation = plan.Inverse(product, product)
	} else {
		correlation = plan.Inverse(nil, product)
	}

	peak, row, col := peakMagnitude(correlation)
	shift := [2]float64{wrapIndex(row, rows), wrapIndex(col, cols)}

	if upsample == 1 {
		return newResult(shift, peak, sourceFreq, targetFreq), nil
	}

	u := float64(upsample)
	for i := range shift {
		shift[i] = math.RoundToEven(shift[i]*u) / u
	}
	regionSize := int(math.Ceil(1.5 * u))
	dftShift := math.Floor(float64(regionSize) / 2)
	offsets := [2]float64{
		dftShift - shift[0]*u,
		dftShift - shift[1]*u,
	}

	patch := UpsampledCorrelation(product, regionSize, upsample, offsets)
	peak, row, col = peakMagnitude(patch)
	shift[0] += (float64(row) - dftShift) / u
	shift[1] += (float64(col) - dftShift) / u

	// The patch is an unnormalized DFT sum; bring it to the scale of the
	// inverse transform before computing statistics.
	peak /= complex(float64(rows*cols), 0)
	return newResult(shift, peak, sourceFreq, targetFreq), nil
}

// crossPowerSpectrum returns S * conj(T) / max(|S * conj(T)|, floor) as a new
// matrix.
func crossPowerSpectrum(sourceFreq, targetFreq mat.CMatrix) *mat.CDense {
	rows, cols := sourceFreq.Dims()
	product := mat.NewCDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p := sourceFreq.At(i, j) * cmplx.Conj(targetFreq.At(i, j))
			product.Set(i, j, p/complex(math.Max(cmplx.Abs(p), spectrumFloor), 0))
		}
	}
	return product
}

// peakMagnitude returns the element of largest magnitude and its position.
// Ties resolve to the first position in row-major order.
func peakMagnitude(m *mat.CDense) (peak complex128, row, col int) {
	raw := m.RawCMatrix()
	best := -1.0
	for i := 0; i < raw.Rows; i++ {
		for j, v := range raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols] {
			if a := real(v)*real(v) + imag(v)*imag(v); a > best {
				best = a
				peak, row, col = v, i, j
			}
		}
	}
	return peak, row, col
}

// wrapIndex converts a peak index on an axis of length n into a signed
// displacement: indices past the axis midpoint wrap to negative values.
func wrapIndex(idx, n int) float64 {
	if float64(idx) > float64(n-1)/2 {
		return float64(idx - n)
	}
	return float64(idx)
}

func newResult(shift [2]float64, peak complex128, sourceFreq, targetFreq *mat.CDense) Result {
	errStat, phaseDiff := calculateStats(peak, sourceFreq, targetFreq)
	return Result{Shift: shift, Error: errStat, PhaseDiff: phaseDiff}
}

// calculateStats derives the error and phase difference from a correlation
// peak. The denominator is floored like the cross-power spectrum so that an
// all-zero input reports an error of 1 instead of NaN.
func calculateStats(peak complex128, sourceFreq, targetFreq *mat.CDense) (errStat, phaseDiff float64) {
	amp := math.Max(meanAbs2(sourceFreq)*meanAbs2(targetFreq), spectrumFloor)
	magnitude := real(peak)*real(peak) + imag(peak)*imag(peak)
	errStat = 1 - magnitude/amp
	phaseDiff = math.Atan2(imag(peak), real(peak))
	return errStat, phaseDiff
}

// meanAbs2 returns the mean squared magnitude of the elements of m.
func meanAbs2(m *mat.CDense) float64 {
	raw := m.RawCMatrix()
	var sum float64
	for i := 0; i < raw.Rows; i++ {
		norm := cblas128.Nrm2(cblas128.Vector{
			N:    raw.Cols,
			Inc:  1,
			Data: raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols],
		})
		sum += norm * norm
	}
	return sum / float64(raw.Rows*raw.Cols)
}

func checkUpsample(upsample int) error {
	if upsample < 1 {
		return fmt.Errorf("%w: upsample factor %d must be at least 1", ErrInvalidArgument, upsample)
	}
	return nil
}

func sameShape(source, target mat.Matrix) (rows, cols int, err error) {
	rows, cols = source.Dims()
	if tr, tc := target.Dims(); tr != rows || tc != cols {
		return 0, 0, fmt.Errorf("%w: source is %dx%d, target is %dx%d", ErrShapeMismatch, rows, cols, tr, tc)
	}
	return rows, cols, nil
}
