// Package model defines the data structures used throughout the application.
package model

import (
	"strconv"
	"strings"
	"time"
)

// User is an end-user account.
//
// PasswordHash is empty for accounts created through OAuth; such users can
// only sign in through their provider. Profile is deliberately free-form: the
// onboarding, edit-profile and update_account flows each write their own set
// of keys and the mobile clients add more over time.
type User struct {
	ID                int64             `json:"id"`
	Username          string            `json:"username"`
	Email             string            `json:"email"`
	PasswordHash      string            `json:"-"`
	Verified          bool              `json:"verified"`
	CreatedAt         time.Time         `json:"created_at"`
	Profile           Profile           `json:"profile"`
	TrustedContacts   []TrustedContact  `json:"trusted_contacts"`
	NotificationPrefs NotificationPrefs `json:"notification_prefs"`
}

// HasPassword reports whether the account can use password login.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Profile is the free-form profile mapping stored as JSON.
type Profile map[string]any

// String returns the value at key if it is a string.
func (p Profile) String(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Float returns the value at key as a float64. JSON numbers and numeric
// strings are both accepted.
func (p Profile) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Clone returns a shallow copy of the profile.
func (p Profile) Clone() Profile {
	out := make(Profile, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// TrustedContact is a person who receives a user's emergency alerts.
// IDs are unique within one user's list only.
type TrustedContact struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Relation string `json:"relation,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// NextContactID returns max(existing ids)+1, or 1 for an empty list.
// Ids stay unique within the list even after removals.
func NextContactID(contacts []TrustedContact) int {
	maxID := 0
	for _, c := range contacts {
		if c.ID > maxID {
			maxID = c.ID
		}
	}
	return maxID + 1
}

// RemoveContact returns the list without the contact with the given id.
// An unknown id leaves the list unchanged.
func RemoveContact(contacts []TrustedContact, id int) []TrustedContact {
	out := make([]TrustedContact, 0, len(contacts))
	for _, c := range contacts {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
