package model

import "time"

// PushSubscription is a browser Web Push endpoint. Endpoints are unique; a
// subscription that the push service reports as gone is deactivated rather
// than deleted.
type PushSubscription struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username,omitempty"`
	Endpoint  string    `json:"endpoint"`
	Auth      string    `json:"auth"`
	P256dh    string    `json:"p256dh"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingRegistration holds a sign-up between the register and verify-email
// steps. The password is already bcrypt-hashed.
type PendingRegistration struct {
	Token        string    `json:"token"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Code         string    `json:"code"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the pending registration is past its deadline.
func (p *PendingRegistration) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
