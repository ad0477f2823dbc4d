package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrOutOfRange is returned when a position is outside [0, count).
	ErrOutOfRange = errors.New("position out of range")
	// ErrInvalidDimension is returned when constructing an index with dimension <= 0.
	ErrInvalidDimension = errors.New("dimensions must be positive")
)

func dimensionError(got, want int) error {
	return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, got, want)
}
