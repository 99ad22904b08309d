// Package reset tracks pending password-reset codes.
//
// Each email moves through Absent -> Pending (code issued) -> Verified (code
// checked) -> Absent (code consumed). Issuing again always starts over, and
// an entry past its expiry is treated as absent on every read.
package reset

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 2 * time.Minute

var (
	ErrNoEntry     = errors.New("no pending reset for this email")
	ErrExpired     = errors.New("reset code has expired")
	ErrMismatch    = errors.New("reset code does not match")
	ErrNotVerified = errors.New("reset code has not been verified")
)

// Entry is the state of one pending reset.
type Entry struct {
	Email     string
	Code      string
	ExpiresAt time.Time
	Verified  bool
}

// Registry is the reset state machine.
type Registry interface {
	// Issue creates a new code for email, replacing any previous entry.
	Issue(ctx context.Context, email string) (Entry, error)
	// Verify marks the entry verified when code matches.
	Verify(ctx context.Context, email, code string) error
	// Consume deletes a verified entry whose code matches. It succeeds at
	// most once per issued code.
	Consume(ctx context.Context, email, code string) error
	// Invalidate drops any entry for email.
	Invalidate(ctx context.Context, email string) error
	// TTL reports the validity of newly issued codes.
	TTL() time.Duration
}

const (
	codeMin   = 100000
	codeRange = 900000 // codeMin..999999 inclusive
)

// GenerateCode returns a uniformly distributed 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("generate reset code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}
