package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/notify"
	"github.com/sakif/proteeti/internal/repository"
	"github.com/sakif/proteeti/internal/storage"
)

const (
	// MinAudioBytes rejects empty or truncated recordings.
	MinAudioBytes = 100
	// MaxAudioBytes caps one recording at 25 MiB.
	MaxAudioBytes = 25 << 20
)

// Notification status values reported back to the SOS caller.
const (
	NotificationsSkipped = "skipped"
	NotificationsQueued  = "queued"
	NotificationsSent    = "attempted"
)

// Notifier delivers emergency messages and records each attempt.
// *notify.Dispatcher is the production implementation.
type Notifier interface {
	Dispatch(ctx context.Context, alertID int64, username string, kind model.MessageKind, msgs []notify.Message) ([]notify.DeliveryResult, error)
}

// SOSService runs the alert lifecycle: raise, attach audio, resolve.
//
//	send_sos ──► alert(active) ──► location email per contact
//	                 │
//	send_sos_audio ──┴──► audio stored ──► audio email per contact
//	                 │
//	admin resolve ───┴──► alert(resolved)
//
// Every status change is also published on the event bus. Notification and
// publish failures are logged and never undo the alert.
type SOSService struct {
	users    repository.UserRepository
	alerts   repository.AlertRepository
	attempts repository.NotificationRepository
	notifier Notifier
	audio    storage.AudioStore
	events   notify.EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

func NewSOSService(
	users repository.UserRepository,
	alerts repository.AlertRepository,
	attempts repository.NotificationRepository,
	notifier Notifier,
	audio storage.AudioStore,
	events notify.EventPublisher,
	logger *slog.Logger,
) *SOSService {
	return &SOSService{
		users:    users,
		alerts:   alerts,
		attempts: attempts,
		notifier: notifier,
		audio:    audio,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// SOSInput carries the raw request values; coordinates may be numbers or
// numeric strings.
type SOSInput struct {
	Lat      any
	Lng      any
	Accuracy any
}

// SOSResult is returned as soon as the alert is stored.
type SOSResult struct {
	AlertID            int64                   `json:"alert_id"`
	Message            string                  `json:"message"`
	NotificationStatus string                  `json:"notification_status"`
	Notifications      []notify.DeliveryResult `json:"notifications,omitempty"`
}

// Send validates the location, stores an active alert and notifies every
// trusted contact. Invalid input writes nothing.
func (s *SOSService) Send(ctx context.Context, username string, in SOSInput) (*SOSResult, error) {
	lat, lng, err := parseCoordinates(in.Lat, in.Lng)
	if err != nil {
		return nil, err
	}
	accuracy := 0.0
	if !isMissing(in.Accuracy) {
		if v, ok := toFloat(in.Accuracy); ok && v >= 0 {
			accuracy = v
		}
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	alert := &model.SOSAlert{
		UserID:    user.ID,
		Username:  user.Username,
		Lat:       lat,
		Lng:       lng,
		Accuracy:  accuracy,
		Status:    model.AlertActive,
		CreatedAt: s.now().UTC(),
	}
	if err := s.alerts.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("service/sos: creating alert: %w", err)
	}
	s.logger.Warn("SOS alert raised",
		slog.Int64("alert_id", alert.ID),
		slog.String("username", username),
		slog.Float64("lat", lat),
		slog.Float64("lng", lng),
	)
	s.publish(ctx, *alert)

	res := &SOSResult{
		AlertID:            alert.ID,
		Message:            "Location SOS sent. Recording audio...",
		NotificationStatus: NotificationsSkipped,
	}
	if len(user.TrustedContacts) == 0 {
		return res, nil
	}

	msgs := make([]notify.Message, 0, len(user.TrustedContacts))
	for _, c := range user.TrustedContacts {
		msgs = append(msgs, notify.LocationMessage(c.Email, username, lat, lng))
	}
	res.Notifications, res.NotificationStatus = s.dispatch(ctx, alert.ID, username, model.KindLocation, msgs)
	return res, nil
}

// AudioResult reports which alert the recording was tied to, if any.
type AudioResult struct {
	AlertID            int64                   `json:"alert_id,omitempty"`
	AudioKey           string                  `json:"audio_key,omitempty"`
	Message            string                  `json:"message"`
	NotificationStatus string                  `json:"notification_status"`
	Notifications      []notify.DeliveryResult `json:"notifications,omitempty"`
}

// AttachAudio sends the recording to every trusted contact.
//
// The recording belongs to alertID when it is non-zero (the alert must be
// the caller's), otherwise to the caller's latest active alert, otherwise to
// no alert at all.
func (s *SOSService) AttachAudio(ctx context.Context, username string, alertID int64, audio []byte) (*AudioResult, error) {
	if len(audio) < MinAudioBytes {
		return nil, apperror.ValidationFailed("audio", "Audio recording is empty or too short")
	}
	if len(audio) > MaxAudioBytes {
		return nil, apperror.ValidationFailed("audio", "Audio recording is too large")
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	alert, err := s.audioAlert(ctx, username, alertID)
	if err != nil {
		return nil, err
	}

	res := &AudioResult{Message: "Audio SOS sent", NotificationStatus: NotificationsSkipped}
	if alert != nil {
		res.AlertID = alert.ID
	}

	key, err := s.audio.PutAudio(ctx, username, audio)
	if err != nil {
		s.logger.Error("storing SOS audio failed", slog.String("username", username), slog.String("error", err.Error()))
	} else if key != "" {
		res.AudioKey = key
		if alert != nil {
			if err := s.alerts.SetAlertAudio(ctx, alert.ID, key); err != nil {
				s.logger.Error("recording audio key failed", slog.Int64("alert_id", alert.ID), slog.String("error", err.Error()))
			}
		}
	}

	if len(user.TrustedContacts) == 0 {
		return res, nil
	}
	msgs := make([]notify.Message, 0, len(user.TrustedContacts))
	for _, c := range user.TrustedContacts {
		msgs = append(msgs, notify.AudioMessage(c.Email, username, audio))
	}
	res.Notifications, res.NotificationStatus = s.dispatch(ctx, res.AlertID, username, model.KindAudio, msgs)
	return res, nil
}

func (s *SOSService) audioAlert(ctx context.Context, username string, alertID int64) (*model.SOSAlert, error) {
	if alertID != 0 {
		alert, err := s.alerts.GetAlert(ctx, alertID)
		if err != nil {
			return nil, err
		}
		if alert.Username != username {
			return nil, apperror.NotFound("alert", fmt.Sprint(alertID))
		}
		return alert, nil
	}

	alert, err := s.alerts.LatestActiveAlert(ctx, username)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	return alert, err
}

// dispatch never fails the caller: the alert is already on record.
func (s *SOSService) dispatch(ctx context.Context, alertID int64, username string, kind model.MessageKind, msgs []notify.Message) ([]notify.DeliveryResult, string) {
	results, err := s.notifier.Dispatch(ctx, alertID, username, kind, msgs)
	if err != nil {
		s.logger.Error("dispatching SOS notifications failed",
			slog.Int64("alert_id", alertID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, NotificationsSent
	}
	for _, r := range results {
		if r.Status == model.AttemptPending {
			return results, NotificationsQueued
		}
	}
	return results, NotificationsSent
}

// ListMine returns the caller's alerts, newest first.
func (s *SOSService) ListMine(ctx context.Context, username string) ([]model.SOSAlert, error) {
	return s.alerts.ListAlertsByUsername(ctx, username)
}

// ListAll returns every alert for the admin console.
func (s *SOSService) ListAll(ctx context.Context) ([]model.SOSAlert, error) {
	return s.alerts.ListAlerts(ctx)
}

// Attempts returns the delivery records of one of the caller's alerts.
// Someone else's alert is reported as not found.
func (s *SOSService) Attempts(ctx context.Context, username string, alertID int64) ([]model.NotificationAttempt, error) {
	alert, err := s.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Username != username {
		return nil, apperror.NotFound("alert", fmt.Sprint(alertID))
	}
	return s.attempts.ListAttempts(ctx, alertID)
}

// Resolve marks the alert resolved. Resolving twice is not an error and the
// first resolution time is kept.
func (s *SOSService) Resolve(ctx context.Context, alertID int64) (*model.SOSAlert, error) {
	alert, err := s.alerts.ResolveAlert(ctx, alertID, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("SOS alert resolved", slog.Int64("alert_id", alertID), slog.String("username", alert.Username))
	s.publish(ctx, *alert)
	return alert, nil
}

func (s *SOSService) publish(ctx context.Context, alert model.SOSAlert) {
	if err := s.events.PublishAlert(ctx, alert); err != nil {
		s.logger.Warn("publishing alert event failed", slog.Int64("alert_id", alert.ID), slog.String("error", err.Error()))
	}
}
