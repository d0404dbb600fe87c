package registration

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"phasereg/pkg/fourier"
)

// FourierShiftInPlace multiplies every element (k1, k2) of the spectrum freq by
//
//	exp(-2πi (f1(k1)*shift[0] + f2(k2)*shift[1]) + i*phase)
//
// where f1 and f2 are the per-axis sample frequencies. After an inverse
// transform this is a circular translation of the image by shift. freq is
// modified and returned.
func FourierShiftInPlace(freq *mat.CDense, shift []float64, phase float64) (*mat.CDense, error) {
	if len(shift) != 2 {
		return nil, fmt.Errorf("%w: shift has %d components, want 2", ErrInvalidArgument, len(shift))
	}

	rows, cols := freq.Dims()
	rowFreqs := fourier.FFTFreq(rows, 1)
	colFreqs := fourier.FFTFreq(cols, 1)

	raw := freq.RawCMatrix()
	for i := 0; i < rows; i++ {
		rowPhase := rowFreqs[i] * shift[0]
		row := raw.Data[i*raw.Stride : i*raw.Stride+cols]
		for j := range row {
			angle := -2*math.Pi*(rowPhase+colFreqs[j]*shift[1]) + phase
			row[j] *= cmplx.Rect(1, angle)
		}
	}
	return freq, nil
}

// FourierShift translates a real image by shift (dy, dx) with wraparound and
// returns the result as a new matrix. image is not modified. The imaginary
// residue of the inverse transform is discarded.
func FourierShift(image mat.Matrix, shift []float64, phase float64) (*mat.Dense, error) {
	if len(shift) != 2 {
		return nil, fmt.Errorf("%w: shift has %d components, want 2", ErrInvalidArgument, len(shift))
	}

	rows, cols := image.Dims()
	plan := fourier.DefaultPlanner.Get(rows, cols)
	defer fourier.DefaultPlanner.Put(plan)

	freq := plan.ForwardReal(nil, image)
	if _, err := FourierShiftInPlace(freq, shift, phase); err != nil {
		return nil, err
	}
	return fourier.RealPart(plan.Inverse(freq, freq)), nil
}
