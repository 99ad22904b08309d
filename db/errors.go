package db

import (
	"errors"
	"fmt"
)

// Error taxonomy of the persistence and identity layer. Callers compare
// with errors.Is; messages carry context through wrapping.
var (
	// ErrDuplicateKey matches both email and username collisions.
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrDuplicateEmail    = fmt.Errorf("%w: email already registered", ErrDuplicateKey)
	ErrDuplicateUsername = fmt.Errorf("%w: username already taken", ErrDuplicateKey)

	ErrNotFound = errors.New("not found")

	// ErrInvalidInput matches every validation failure, ErrInvalidUsername included.
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidUsername = fmt.Errorf("%w: username must match [A-Za-z0-9_]+", ErrInvalidInput)

	ErrBadPassword = errors.New("invalid password")

	// ErrStoreUnavailable reports an I/O or decoding failure of the durable
	// copy. The operation that received it changed nothing.
	ErrStoreUnavailable = errors.New("store unavailable")
)

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
