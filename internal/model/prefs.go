package model

import (
	"fmt"
	"time"
)

// NotificationPrefs controls which channels a user is reached on and which
// hazard categories they follow.
type NotificationPrefs struct {
	Channels         Channels   `json:"channels"`
	QuietHours       QuietHours `json:"quiet_hours"`
	HazardCategories []string   `json:"hazard_categories"`
}

type Channels struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

// QuietHours is a daily window in "HH:MM" local clock time. The window may
// wrap past midnight (22:00 to 07:00).
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DefaultNotificationPrefs are applied to new accounts and fill any nested
// field missing from stored or incoming preferences.
func DefaultNotificationPrefs() NotificationPrefs {
	return NotificationPrefs{
		Channels:         Channels{Email: true, SMS: true, Push: false},
		QuietHours:       QuietHours{Start: "22:00", End: "07:00"},
		HazardCategories: []string{},
	}
}

// Contains reports whether t falls inside the quiet window.
// A malformed or empty window never matches.
func (q QuietHours) Contains(t time.Time) bool {
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if start == end {
		return false
	}
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// Follows reports whether the user subscribed to the hazard category.
func (p NotificationPrefs) Follows(category string) bool {
	for _, c := range p.HazardCategories {
		if c == category {
			return true
		}
	}
	return false
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("model: bad clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("model: clock out of range %q", s)
	}
	return h*60 + m, nil
}

// ValidClock reports whether s is a valid "HH:MM" value.
func ValidClock(s string) bool {
	_, err := parseClock(s)
	return err == nil
}
