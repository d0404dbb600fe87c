// Package volume holds image stacks: 3D arrays of real samples that are
// processed one 2D frame at a time along a chosen axis.
package volume

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidAxis is returned for an axis outside x, y and z.
	ErrInvalidAxis = errors.New("volume: invalid axis")

	// ErrOutOfRange is returned for a frame position outside the stack.
	ErrOutOfRange = errors.New("volume: position out of range")

	// ErrShape is returned when frame or data dimensions do not fit the stack.
	ErrShape = errors.New("volume: dimension mismatch")
)

// Axis selects the direction frames are taken along.
type Axis int

const (
	// AxisX yields frames in the YZ plane (rows y, columns z).
	AxisX Axis = iota
	// AxisY yields frames in the XZ plane (rows z, columns x).
	AxisY
	// AxisZ yields frames in the XY plane (rows y, columns x).
	AxisZ
)

// ParseAxis converts "x", "y" or "z" (any case) to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("%w: %q (must be x, y, or z)", ErrInvalidAxis, s)
}

// Valid reports whether a is one of AxisX, AxisY or AxisZ.
func (a Axis) Valid() bool {
	return a == AxisX || a == AxisY || a == AxisZ
}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// Stack is a width x height x depth volume stored with x varying fastest,
// then y, then z: the sample (x, y, z) lives at z*width*height + y*width + x.
type Stack struct {
	data []float64

	width  int
	height int
	depth  int
}

// NewStack wraps data as a stack. If data is nil a zeroed backing slice is
// allocated; otherwise its length must be width*height*depth and the stack
// shares the slice.
func NewStack(width, height, depth int, data []float64) (*Stack, error) {
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%dx%d must be positive", ErrShape, width, height, depth)
	}
	n := width * height * depth
	if data == nil {
		data = make([]float64, n)
	} else if len(data) != n {
		return nil, fmt.Errorf("%w: data length %d, want %d", ErrShape, len(data), n)
	}
	return &Stack{data: data, width: width, height: height, depth: depth}, nil
}

// FromFrames stacks same-shaped XY frames along z. Frame i becomes z == i.
func FromFrames(frames []*mat.Dense) (*Stack, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrShape)
	}
	height, width := frames[0].Dims()
	s, err := NewStack(width, height, len(frames), nil)
	if err != nil {
		return nil, err
	}
	for z, f := range frames {
		if err := s.SetFrame(AxisZ, z, f); err != nil {
			return nil, fmt.Errorf("frame %d: %w", z, err)
		}
	}
	return s, nil
}

// Dims returns the width, height and depth of the stack.
func (s *Stack) Dims() (width, height, depth int) {
	return s.width, s.height, s.depth
}

// Data returns the backing slice. Changes to it are visible in the stack.
func (s *Stack) Data() []float64 {
	return s.data
}

// Clone returns a deep copy of the stack.
func (s *Stack) Clone() *Stack {
	data := make([]float64, len(s.data))
	copy(data, s.data)
	return &Stack{data: data, width: s.width, height: s.height, depth: s.depth}
}

// Len returns the number of frames along axis.
func (s *Stack) Len(axis Axis) (int, error) {
	switch axis {
	case AxisX:
		return s.width, nil
	case AxisY:
		return s.height, nil
	case AxisZ:
		return s.depth, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrInvalidAxis, axis)
}

// FrameDims returns the rows and columns of frames taken along axis.
func (s *Stack) FrameDims(axis Axis) (rows, cols int, err error) {
	switch axis {
	case AxisX:
		return s.height, s.depth, nil
	case AxisY:
		return s.depth, s.width, nil
	case AxisZ:
		return s.height, s.width, nil
	}
	return 0, 0, fmt.Errorf("%w: %v", ErrInvalidAxis, axis)
}

// index maps frame coordinates (row, col) at position pos along axis to an
// offset into the backing slice.
func (s *Stack) index(axis Axis, pos, row, col int) int {
	switch axis {
	case AxisX:
		return col*s.width*s.height + row*s.width + pos
	case AxisY:
		return row*s.width*s.height + pos*s.width + col
	default:
		return pos*s.width*s.height + row*s.width + col
	}
}

func (s *Stack) checkPosition(axis Axis, pos int) error {
	n, err := s.Len(axis)
	if err != nil {
		return err
	}
	if pos < 0 || pos >= n {
		return fmt.Errorf("%w: position %d along %v (length %d)", ErrOutOfRange, pos, axis, n)
	}
	return nil
}

// Frame copies the 2D frame at position pos along axis into a new matrix.
func (s *Stack) Frame(axis Axis, pos int) (*mat.Dense, error) {
	if err := s.checkPosition(axis, pos); err != nil {
		return nil, err
	}
	rows, cols, _ := s.FrameDims(axis)
	frame := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			frame.Set(r, c, s.data[s.index(axis, pos, r, c)])
		}
	}
	return frame, nil
}

// SetFrame writes frame into the stack at position pos along axis.
func (s *Stack) SetFrame(axis Axis, pos int, frame mat.Matrix) error {
	if err := s.checkPosition(axis, pos); err != nil {
		return err
	}
	rows, cols, _ := s.FrameDims(axis)
	if r, c := frame.Dims(); r != rows || c != cols {
		return fmt.Errorf("%w: frame is %dx%d, want %dx%d", ErrShape, r, c, rows, cols)
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			s.data[s.index(axis, pos, r, c)] = frame.At(r, c)
		}
	}
	return nil
}
