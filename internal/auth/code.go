package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/rs/xid"
)

// NewVerificationCode returns a uniformly random 6-digit code, zero padded.
func NewVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("auth: generating verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// NewOpaqueToken returns a random, URL-safe identifier for cookies that only
// point at server-side state (pending registrations, OAuth state).
func NewOpaqueToken() string {
	return xid.New().String()
}
