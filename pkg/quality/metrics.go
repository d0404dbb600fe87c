// Package quality compares a frame against its reference before and after
// alignment.
package quality

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrShapeMismatch is returned when the compared frames differ in shape.
var ErrShapeMismatch = errors.New("quality: frame shapes differ")

// Metrics holds similarity measures between two frames.
type Metrics struct {
	RMSE              float64 `yaml:"rmse"`
	SSIM              float64 `yaml:"ssim"`
	MutualInformation float64 `yaml:"mutualInformation"`
	EntropyDiff       float64 `yaml:"entropyDiff"`
	Correlation       float64 `yaml:"correlation"`
}

// Compare computes all metrics between a reference frame and a frame.
func Compare(reference, frame mat.Matrix) (Metrics, error) {
	rr, rc := reference.Dims()
	if fr, fc := frame.Dims(); fr != rr || fc != rc {
		return Metrics{}, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, rr, rc, fr, fc)
	}
	x := flatten(reference)
	y := flatten(frame)

	return Metrics{
		RMSE:              RMSE(x, y),
		SSIM:              SSIM(x, y),
		MutualInformation: MutualInformation(x, y),
		EntropyDiff:       math.Abs(Entropy(x) - Entropy(y)),
		Correlation:       Correlation(x, y),
	}, nil
}

// Average returns the element-wise mean of ms.
func Average(ms []Metrics) Metrics {
	var avg Metrics
	if len(ms) == 0 {
		return avg
	}
	for _, m := range ms {
		avg.RMSE += m.RMSE
		avg.SSIM += m.SSIM
		avg.MutualInformation += m.MutualInformation
		avg.EntropyDiff += m.EntropyDiff
		avg.Correlation += m.Correlation
	}
	n := float64(len(ms))
	avg.RMSE /= n
	avg.SSIM /= n
	avg.MutualInformation /= n
	avg.EntropyDiff /= n
	avg.Correlation /= n
	return avg
}

func flatten(m mat.Matrix) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

// RMSE computes the root mean square error.
func RMSE(x, y []float64) float64 {
	n := len(x)
	if n != len(y) || n == 0 {
		return 0
	}
	return floats.Distance(x, y, 2) / math.Sqrt(float64(n))
}

// SSIM computes a global structural similarity index for samples with a
// dynamic range of 1.
func SSIM(x, y []float64) float64 {
	const (
		L  = 1.0
		k1 = 0.01
		k2 = 0.03
	)
	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	if len(x) != len(y) || len(x) < 2 {
		return 0
	}

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// MutualInformation approximates the mutual information of x and y under a
// bivariate Gaussian model: -0.5 * log(1 - rho^2). rho^2 is capped at
// maxRho2 so identical frames give a large but finite value.
func MutualInformation(x, y []float64) float64 {
	rho := Correlation(x, y)
	return -0.5 * math.Log(1-math.Min(rho*rho, maxRho2))
}

const maxRho2 = 1 - 1e-12

// Correlation returns the Pearson correlation of x and y, or 0 when either
// is constant.
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

const entropyBins = 256

// Entropy computes the Shannon entropy in bits of a 256-bin histogram of data
// spanning its own range.
func Entropy(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}

	hist := make([]float64, entropyBins)
	binWidth := (hi - lo) / entropyBins
	for _, v := range data {
		bin := int((v - lo) / binWidth)
		if bin >= entropyBins {
			bin = entropyBins - 1
		}
		hist[bin]++
	}
	floats.Scale(1/float64(len(data)), hist)
	return stat.Entropy(hist) / math.Ln2
}
