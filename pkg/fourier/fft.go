// Package fourier provides the two-dimensional discrete Fourier transform used
// by the registration code. Transforms are separable: every row and then every
// column is passed through a one-dimensional gonum CmplxFFT.
package fourier

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// Plan holds the precomputed twiddle factors and scratch space for
// transforming arrays of one fixed shape. A Plan is not safe for concurrent
// use; obtain one plan per goroutine (see Planner).
type Plan struct {
	rows int
	cols int

	// rowFFT transforms sequences of length cols, colFFT sequences of length rows.
	rowFFT *fourier.CmplxFFT
	colFFT *fourier.CmplxFFT

	// column gathers one strided column so it can be transformed contiguously.
	column []complex128
}

// NewPlan creates a transform plan for rows x cols arrays.
//
// Parameters:
//   - rows: number of rows (first axis), must be positive
//   - cols: number of columns (second axis), must be positive
//
// Returns:
//   - A plan reusable for any number of transforms of that shape
func NewPlan(rows, cols int) *Plan {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("fourier: invalid plan shape %dx%d", rows, cols))
	}
	return &Plan{
		rows:   rows,
		cols:   cols,
		rowFFT: fourier.NewCmplxFFT(cols),
		colFFT: fourier.NewCmplxFFT(rows),
		column: make([]complex128, rows),
	}
}

// Shape returns the array shape the plan was built for.
func (p *Plan) Shape() (rows, cols int) {
	return p.rows, p.cols
}

// Forward computes the unnormalized forward transform of src into dst and
// returns dst. If dst is nil a new matrix is allocated. dst and src may be the
// same matrix, in which case the transform happens in place.
func (p *Plan) Forward(dst, src *mat.CDense) *mat.CDense {
	dst = p.prepare(dst, src)
	p.transform(dst, false)
	return dst
}

// Inverse computes the inverse transform of src into dst, normalized by
// 1/(rows*cols) so that Inverse(Forward(x)) == x. If dst is nil a new matrix
// is allocated. dst and src may be the same matrix.
func (p *Plan) Inverse(dst, src *mat.CDense) *mat.CDense {
	dst = p.prepare(dst, src)
	p.transform(dst, true)

	scale := complex(1/float64(p.rows*p.cols), 0)
	raw := dst.RawCMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] *= scale
		}
	}
	return dst
}

// ForwardReal transforms a real-valued image. It is the usual entry point for
// spatial-domain data.
func (p *Plan) ForwardReal(dst *mat.CDense, src mat.Matrix) *mat.CDense {
	r, c := src.Dims()
	p.checkShape(r, c)
	if dst == nil {
		dst = mat.NewCDense(r, c, nil)
	} else {
		p.checkDst(dst)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(i, j, complex(src.At(i, j), 0))
		}
	}
	p.transform(dst, false)
	return dst
}

// prepare validates shapes and copies src into dst when they differ.
func (p *Plan) prepare(dst, src *mat.CDense) *mat.CDense {
	r, c := src.Dims()
	p.checkShape(r, c)
	if dst == nil {
		dst = mat.NewCDense(r, c, nil)
	} else {
		p.checkDst(dst)
	}
	if dst != src {
		dst.Copy(src)
	}
	return dst
}

func (p *Plan) checkShape(r, c int) {
	if r != p.rows || c != p.cols {
		panic(fmt.Sprintf("fourier: shape %dx%d does not match plan %dx%d", r, c, p.rows, p.cols))
	}
}

func (p *Plan) checkDst(dst *mat.CDense) {
	r, c := dst.Dims()
	if r != p.rows || c != p.cols {
		panic(fmt.Sprintf("fourier: destination shape %dx%d does not match plan %dx%d", r, c, p.rows, p.cols))
	}
}

// transform runs the row pass and then the column pass in place.
func (p *Plan) transform(m *mat.CDense, inverse bool) {
	raw := m.RawCMatrix()

	for i := 0; i < p.rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+p.cols]
		if inverse {
			p.rowFFT.Sequence(row, row)
		} else {
			p.rowFFT.Coefficients(row, row)
		}
	}

	for j := 0; j < p.cols; j++ {
		for i := 0; i < p.rows; i++ {
			p.column[i] = raw.Data[i*raw.Stride+j]
		}
		if inverse {
			p.colFFT.Sequence(p.column, p.column)
		} else {
			p.colFFT.Coefficients(p.column, p.column)
		}
		for i := 0; i < p.rows; i++ {
			raw.Data[i*raw.Stride+j] = p.column[i]
		}
	}
}

// RealPart returns the real component of a complex matrix as a new Dense.
func RealPart(m mat.CMatrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, real(m.At(i, j)))
		}
	}
	return out
}

// FFTFreq returns the sample frequencies of an n-point transform with sample
// spacing d, in cycles per unit of d. Index 0 holds the zero frequency,
// indices above (n-1)/2 hold the negative frequencies, so for even n the
// Nyquist term is reported as -1/(2d).
func FFTFreq(n int, d float64) []float64 {
	freqs := make([]float64, n)
	step := 1 / (float64(n) * d)
	positive := (n-1)/2 + 1
	for i := 0; i < n; i++ {
		k := i
		if i >= positive {
			k = i - n
		}
		freqs[i] = float64(k) * step
	}
	return freqs
}
