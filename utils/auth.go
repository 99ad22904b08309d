package utils

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// --- Credential Verification ---

// CredentialVerifier turns a password into its stored form and checks a
// candidate against a stored credential. Callers never compare passwords
// themselves, so the storage scheme can change in one place.
type CredentialVerifier interface {
	Hash(password string) (string, error)
	Verify(password, stored string) bool
}

// PlainVerifier stores passwords as given and compares them byte for byte.
// It keeps documents written by earlier versions of the service usable.
type PlainVerifier struct{}

func (PlainVerifier) Hash(password string) (string, error) {
	return password, nil
}

func (PlainVerifier) Verify(password, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
}

// BcryptVerifier stores bcrypt hashes. Accounts created under the plain
// scheme cannot log in once it is enabled and must go through a reset.
type BcryptVerifier struct {
	Cost int
}

// Hash generates a bcrypt hash for the given password.
func (v BcryptVerifier) Hash(password string) (string, error) {
	cost := v.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// Verify compares a plain text password with a stored bcrypt hash.
func (BcryptVerifier) Verify(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// NewCredentialVerifier returns the verifier for a configured scheme name.
func NewCredentialVerifier(scheme string, bcryptCost int) (CredentialVerifier, error) {
	switch scheme {
	case "", "plain":
		return PlainVerifier{}, nil
	case "bcrypt":
		return BcryptVerifier{Cost: bcryptCost}, nil
	}
	return nil, fmt.Errorf("unknown password scheme '%s'", scheme)
}
