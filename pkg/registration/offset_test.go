package registration

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"

	"phasereg/pkg/fourier"
)

// rampImage returns the 10x10 image filled column by column with 1..100.
func rampImage() *mat.Dense {
	img := mat.NewDense(10, 10, nil)
	for c := 0; c < 10; c++ {
		for r := 0; r < 10; r++ {
			img.Set(r, c, float64(r+1+10*c))
		}
	}
	return img
}

// randomImage returns a reproducible image with broadband spectral content.
func randomImage(rows, cols int, seed int64) *mat.Dense {
	rnd := rand.New(rand.NewSource(seed))
	img := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			img.Set(r, c, rnd.Float64())
		}
	}
	return img
}

func mustShift(t *testing.T, img mat.Matrix, dy, dx float64) *mat.Dense {
	t.Helper()
	out, err := FourierShift(img, []float64{dy, dx}, 0)
	if err != nil {
		t.Fatalf("FourierShift(%v, %v) failed: %v", dy, dx, err)
	}
	return out
}

func mustOffset(t *testing.T, source, target mat.Matrix, upsample int) Result {
	t.Helper()
	res, err := PhaseOffset(source, target, upsample)
	if err != nil {
		t.Fatalf("PhaseOffset(upsample=%d) failed: %v", upsample, err)
	}
	return res
}

// TestPhaseOffsetRampScenario reproduces the reference 10x10 ramp case at
// pixel and 1/5 pixel precision.
func TestPhaseOffsetRampScenario(t *testing.T) {
	image := rampImage()
	shift := []float64{-1.6, 2.8}
	target := mustShift(t, image, shift[0], shift[1])

	res := mustOffset(t, image, target, 1)
	if res.Shift != [2]float64{2, -3} {
		t.Errorf("Expected pixel shift (2, -3), got %v", res.Shift)
	}
	if !scalar.EqualWithinAbs(res.Error, 1, 1e-6) {
		t.Errorf("Expected error ~1, got %v", res.Error)
	}
	if !scalar.EqualWithinAbs(res.PhaseDiff, 0, 1e-9) {
		t.Errorf("Expected phase difference ~0, got %v", res.PhaseDiff)
	}

	res = mustOffset(t, image, target, 5)
	for i := range shift {
		if d := math.Abs(res.Shift[i] + shift[i]); d > 0.2+1e-9 {
			t.Errorf("Axis %d: upsampled shift %v is %v away from %v", i, res.Shift[i], d, -shift[i])
		}
	}
}

// TestPhaseOffsetIdentity checks that an image registered against an
// unshifted copy of itself reports no shift.
func TestPhaseOffsetIdentity(t *testing.T) {
	image := randomImage(16, 12, 1)
	target := mustShift(t, image, 0, 0)

	for _, upsample := range []int{1, 2, 5, 20} {
		res := mustOffset(t, image, target, upsample)
		for i, s := range res.Shift {
			if !scalar.EqualWithinAbs(s, 0, 1e-9) {
				t.Errorf("upsample=%d axis %d: expected shift 0, got %v", upsample, i, s)
			}
		}
		if !scalar.EqualWithinAbs(res.PhaseDiff, 0, 1e-9) {
			t.Errorf("upsample=%d: expected phase difference 0, got %v", upsample, res.PhaseDiff)
		}
		if math.IsNaN(res.Error) || res.Error > 1 {
			t.Errorf("upsample=%d: unexpected error statistic %v", upsample, res.Error)
		}
	}
}

// TestShiftInversion shifts by whole pixels and expects the negated shift
// back at every precision.
func TestShiftInversion(t *testing.T) {
	image := randomImage(16, 20, 2)
	shifts := [][2]float64{
		{3, -5},
		{-7, 2},
		{0, 9},
		{-4, -4},
		{1, 0},
	}

	for _, s := range shifts {
		target := mustShift(t, image, s[0], s[1])
		for _, upsample := range []int{1, 4} {
			res := mustOffset(t, image, target, upsample)
			for i := range s {
				if !scalar.EqualWithinAbs(res.Shift[i], -s[i], 1e-9) {
					t.Errorf("shift %v upsample=%d: axis %d got %v, want %v",
						s, upsample, i, res.Shift[i], -s[i])
				}
			}
		}
	}
}

// TestRefinedErrorMatchesPixelScale registers a whole-pixel shift at several
// precisions; the refined peak lands on the same grid point as the coarse one,
// so the error statistic must not depend on the upsample factor.
func TestRefinedErrorMatchesPixelScale(t *testing.T) {
	image := randomImage(18, 22, 10)
	target := mustShift(t, image, -3, 6)

	coarse := mustOffset(t, image, target, 1)
	for _, upsample := range []int{2, 4, 10} {
		res := mustOffset(t, image, target, upsample)
		if !scalar.EqualWithinAbs(res.Error, coarse.Error, 1e-9) {
			t.Errorf("upsample=%d: error %v, whole-pixel error %v", upsample, res.Error, coarse.Error)
		}
		if !scalar.EqualWithinAbs(res.PhaseDiff, coarse.PhaseDiff, 1e-9) {
			t.Errorf("upsample=%d: phase %v, whole-pixel phase %v", upsample, res.PhaseDiff, coarse.PhaseDiff)
		}
	}
}

// TestMonotonicRefinement checks that a larger upsample factor never makes
// the estimate of a fractional shift worse, and that the estimate stays
// within half a grid step.
func TestMonotonicRefinement(t *testing.T) {
	image := randomImage(31, 33, 3)
	shift := [2]float64{3.37, -5.71}
	target := mustShift(t, image, shift[0], shift[1])

	prev := math.Inf(1)
	for _, upsample := range []int{1, 5, 20} {
		res := mustOffset(t, image, target, upsample)
		worst := 0.0
		for i := range shift {
			worst = math.Max(worst, math.Abs(res.Shift[i]+shift[i]))
		}
		if limit := 0.5/float64(upsample) + 1e-6; worst > limit {
			t.Errorf("upsample=%d: error %v exceeds %v (shift %v)", upsample, worst, limit, res.Shift)
		}
		if worst > prev+1e-12 {
			t.Errorf("upsample=%d: error %v larger than previous %v", upsample, worst, prev)
		}
		prev = worst
	}
}

// TestPhaseOffsetSymmetry swaps source and target and expects the negated
// shift.
func TestPhaseOffsetSymmetry(t *testing.T) {
	a := randomImage(25, 27, 4)

	tests := []struct {
		shift    [2]float64
		upsample int
	}{
		{[2]float64{2, -3}, 1},
		{[2]float64{1.3, -2.42}, 10},
		{[2]float64{-4.8, 0.61}, 7},
	}

	for _, tt := range tests {
		b := mustShift(t, a, tt.shift[0], tt.shift[1])
		ab := mustOffset(t, a, b, tt.upsample)
		ba := mustOffset(t, b, a, tt.upsample)
		for i := range ab.Shift {
			if !scalar.EqualWithinAbs(ab.Shift[i], -ba.Shift[i], 1e-9) {
				t.Errorf("shift %v: axis %d forward %v, backward %v", tt.shift, i, ab.Shift[i], ba.Shift[i])
			}
		}
	}
}

func TestPhaseOffsetFreqMatchesSpatial(t *testing.T) {
	source := randomImage(12, 14, 5)
	target := mustShift(t, source, -2.6, 1.1)

	plan := fourier.NewPlan(12, 14)
	sourceFreq := plan.ForwardReal(nil, source)
	targetFreq := plan.ForwardReal(nil, target)
	sourceCopy := mat.NewCDense(12, 14, nil)
	sourceCopy.Copy(sourceFreq)

	got, err := PhaseOffsetFreq(plan, sourceFreq, targetFreq, 8)
	if err != nil {
		t.Fatalf("PhaseOffsetFreq failed: %v", err)
	}
	want := mustOffset(t, source, target, 8)
	if got != want {
		t.Errorf("frequency entry point %+v differs from spatial %+v", got, want)
	}

	// The caller's spectra must survive the upsampled path untouched.
	for i := 0; i < 12; i++ {
		for j := 0; j < 14; j++ {
			if sourceFreq.At(i, j) != sourceCopy.At(i, j) {
				t.Fatalf("source spectrum modified at (%d, %d)", i, j)
			}
		}
	}

	nilPlan, err := PhaseOffsetFreq(nil, sourceFreq, targetFreq, 8)
	if err != nil || nilPlan != want {
		t.Errorf("nil plan: got %+v, %v; want %+v", nilPlan, err, want)
	}
}

func TestPhaseOffsetZeroImages(t *testing.T) {
	zeros := mat.NewDense(8, 8, nil)
	for _, upsample := range []int{1, 3} {
		res, err := PhaseOffset(zeros, zeros, upsample)
		if err != nil {
			t.Fatalf("upsample=%d: unexpected error %v", upsample, err)
		}
		// A flat patch resolves to its first grid point, so only the
		// whole-pixel estimate is pinned.
		if upsample == 1 && res.Shift != [2]float64{0, 0} {
			t.Errorf("upsample=%d: expected zero shift, got %v", upsample, res.Shift)
		}
		if math.IsNaN(res.Shift[0]) || math.IsNaN(res.Shift[1]) {
			t.Errorf("upsample=%d: NaN shift %v", upsample, res.Shift)
		}
		if res.Error != 1 || math.IsNaN(res.PhaseDiff) {
			t.Errorf("upsample=%d: expected error 1 and finite phase, got %+v", upsample, res)
		}
	}
}

func TestPhaseOffsetErrors(t *testing.T) {
	a := randomImage(8, 8, 6)
	b := randomImage(8, 9, 7)

	if _, err := PhaseOffset(a, b, 1); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	for _, upsample := range []int{0, -3} {
		if _, err := PhaseOffset(a, a, upsample); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("upsample=%d: expected ErrInvalidArgument, got %v", upsample, err)
		}
	}

	plan := fourier.NewPlan(8, 8)
	fa := plan.ForwardReal(nil, a)
	fb := fourier.NewPlan(8, 9).ForwardReal(nil, b)
	if _, err := PhaseOffsetFreq(plan, fa, fb, 1); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for spectra, got %v", err)
	}
	if _, err := PhaseOffsetFreq(fourier.NewPlan(4, 4), fa, fa, 1); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for plan, got %v", err)
	}
}

func TestWrapIndex(t *testing.T) {
	tests := []struct {
		idx, n int
		want   float64
	}{
		{0, 10, 0},
		{4, 10, 4},
		{5, 10, -5},
		{9, 10, -1},
		{4, 9, 4},
		{5, 9, -4},
		{0, 1, 0},
	}
	for _, tt := range tests {
		if got := wrapIndex(tt.idx, tt.n); got != tt.want {
			t.Errorf("wrapIndex(%d, %d) = %v, want %v", tt.idx, tt.n, got, tt.want)
		}
	}
}

func TestCrossPowerSpectrumIsUnitMagnitude(t *testing.T) {
	plan := fourier.NewPlan(6, 7)
	s := plan.ForwardReal(nil, randomImage(6, 7, 8))
	tf := plan.ForwardReal(nil, randomImage(6, 7, 9))

	p := crossPowerSpectrum(s, tf)
	for i := 0; i < 6; i++ {
		for j := 0; j < 7; j++ {
			if a := cmplx.Abs(p.At(i, j)); !scalar.EqualWithinAbs(a, 1, 1e-12) {
				t.Fatalf("|P(%d, %d)| = %v, want 1", i, j, a)
			}
		}
	}
}
