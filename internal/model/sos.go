package model

import "time"

// AlertStatus is the lifecycle state of an SOS alert.
// The only transition is active → resolved, performed by an admin.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// SOSAlert is a user-triggered emergency with the location it was raised at.
type SOSAlert struct {
	ID         int64       `json:"id"`
	UserID     int64       `json:"user_id"`
	Username   string      `json:"username"`
	Lat        float64     `json:"lat"`
	Lng        float64     `json:"lng"`
	Accuracy   float64     `json:"accuracy"`
	Status     AlertStatus `json:"status"`
	AudioKey   string      `json:"audio_key,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}

// MessageKind distinguishes the two emergency messages sent to contacts.
type MessageKind string

const (
	KindLocation MessageKind = "location"
	KindAudio    MessageKind = "audio"
)

// AttemptStatus is the delivery state of one message to one recipient.
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSent    AttemptStatus = "sent"
	AttemptFailed  AttemptStatus = "failed"
)

// NotificationAttempt records one outbound emergency message.
// AlertID is zero for audio follow-ups that could not be tied to an alert.
type NotificationAttempt struct {
	ID          int64         `json:"id"`
	AlertID     int64         `json:"alert_id"`
	Username    string        `json:"username"`
	Recipient   string        `json:"recipient"`
	Kind        MessageKind   `json:"kind"`
	Status      AttemptStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	AttemptedAt *time.Time    `json:"attempted_at,omitempty"`
}
