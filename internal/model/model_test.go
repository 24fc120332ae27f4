package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextContactID(t *testing.T) {
	assert.Equal(t, 1, NextContactID(nil))

	contacts := []TrustedContact{{ID: 1}, {ID: 2}, {ID: 3}}
	contacts = RemoveContact(contacts, 2)
	assert.Equal(t, 4, NextContactID(contacts), "removed ids are not reused")

	contacts = RemoveContact(contacts, 99)
	assert.Len(t, contacts, 2, "unknown id is a no-op")
}

func TestQuietHoursContains(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 1, 1, h, m, 0, 0, time.UTC) }

	night := QuietHours{Start: "22:00", End: "07:00"}
	assert.True(t, night.Contains(at(23, 30)))
	assert.True(t, night.Contains(at(2, 0)))
	assert.False(t, night.Contains(at(7, 0)))
	assert.False(t, night.Contains(at(12, 0)))

	day := QuietHours{Start: "09:00", End: "17:00"}
	assert.True(t, day.Contains(at(9, 0)))
	assert.False(t, day.Contains(at(17, 0)))

	assert.False(t, QuietHours{Start: "bad", End: "07:00"}.Contains(at(2, 0)))
	assert.False(t, QuietHours{}.Contains(at(2, 0)))
}

func TestProfileFloat(t *testing.T) {
	p := Profile{"a": 1.5, "b": "2.25", "c": "x", "d": true}

	v, ok := p.Float("a")
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)

	v, ok = p.Float("b")
	assert.True(t, ok)
	assert.Equal(t, 2.25, v)

	_, ok = p.Float("c")
	assert.False(t, ok)
	_, ok = p.Float("d")
	assert.False(t, ok)
	_, ok = p.Float("missing")
	assert.False(t, ok)
}

func TestDefaultNotificationPrefs(t *testing.T) {
	p := DefaultNotificationPrefs()
	assert.True(t, p.Channels.Email)
	assert.True(t, p.Channels.SMS)
	assert.False(t, p.Channels.Push)
	assert.Equal(t, "22:00", p.QuietHours.Start)
	assert.Equal(t, "07:00", p.QuietHours.End)
	assert.NotNil(t, p.HazardCategories)
	assert.False(t, p.Follows("flood"))
}
