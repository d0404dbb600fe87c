package registration

import "errors"

var (
	// ErrShapeMismatch is returned when source and target arrays differ in shape.
	ErrShapeMismatch = errors.New("registration: shape mismatch")

	// ErrInvalidArgument is returned for a non-positive upsample factor, a
	// shift of the wrong dimensionality, or an out-of-range axis or
	// reference index.
	ErrInvalidArgument = errors.New("registration: invalid argument")
)
