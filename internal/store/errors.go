package store

import (
	"errors"
	"fmt"

	"github.com/hyperjump/newsvault/internal/embedding"
	"github.com/hyperjump/newsvault/internal/vector"
)

// Error kinds returned by the store. Test with errors.Is; the underlying
// cause stays in the chain.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrEncoding          = embedding.ErrEncoding
	ErrDimensionMismatch = vector.ErrDimensionMismatch
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrPersistence       = errors.New("persistence error")
	ErrOutOfRange        = vector.ErrOutOfRange
)

func encodingError(err error) error {
	if errors.Is(err, ErrEncoding) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEncoding, err)
}

func persistenceError(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
