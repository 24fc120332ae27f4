package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used in production.
const defaultCost = 12

// MinAdminPasswordLength applies to admin setup and admin password changes.
const MinAdminPasswordLength = 8

// ErrInvalidPassword is returned by Verify when the password does not match.
var ErrInvalidPassword = errors.New("auth: invalid password")

// PasswordService hashes and verifies passwords with bcrypt.
//
// Hashes are stored as the full bcrypt string ($2a$<cost>$<salt><hash>),
// which carries its own salt and cost.
type PasswordService struct {
	cost int
	// dummy is compared against when an account has no password hash, so a
	// login for an OAuth-only or unknown account costs as much as a real one.
	dummy []byte
}

// NewPasswordService creates a PasswordService with cost 12.
func NewPasswordService() *PasswordService {
	return newPasswordServiceWithCost(defaultCost)
}

func newPasswordServiceWithCost(cost int) *PasswordService {
	dummy, err := bcrypt.GenerateFromPassword([]byte("proteeti-dummy-password"), cost)
	if err != nil {
		// Only an out-of-range cost gets here.
		panic(fmt.Sprintf("auth: bcrypt cost %d: %v", cost, err))
	}
	return &PasswordService{cost: cost, dummy: dummy}
}

// NewPasswordServiceForTest lets other packages' tests use a cheap cost (4).
func NewPasswordServiceForTest(cost int) *PasswordService {
	return newPasswordServiceWithCost(cost)
}

// Hash bcrypt-hashes plaintext. bcrypt ignores everything after 72 bytes,
// so longer inputs are rejected instead of silently truncated.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("auth: password must not be empty")
	}
	if len(plaintext) > 72 {
		return "", errors.New("auth: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash and ErrInvalidPassword when
// it does not. An empty hash (OAuth-only account) never matches, but still
// pays for one bcrypt comparison.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(plaintext))
		return ErrInvalidPassword
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// CheckAdminPassword enforces the admin password policy.
func CheckAdminPassword(plaintext string) error {
	if len(plaintext) < MinAdminPasswordLength {
		return fmt.Errorf("auth: password must be at least %d characters", MinAdminPasswordLength)
	}
	return nil
}
