package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/notify"
	"github.com/sakif/proteeti/internal/repository"
)

// PushService manages browser subscriptions and admin broadcasts.
type PushService struct {
	subs   repository.PushRepository
	push   Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

func NewPushService(subs repository.PushRepository, push Broadcaster, logger *slog.Logger) *PushService {
	return &PushService{subs: subs, push: push, logger: logger, now: time.Now}
}

// PublicKey returns the VAPID public key, or an error when push is off.
func (s *PushService) PublicKey() (string, error) {
	if !s.push.Enabled() {
		return "", apperror.NotFound("push configuration", "vapid")
	}
	return s.push.PublicKey(), nil
}

// Subscribe stores the endpoint, reactivating it if it was seen before.
func (s *PushService) Subscribe(ctx context.Context, username, endpoint, authKey, p256dh string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || authKey == "" || p256dh == "" {
		return apperror.ValidationFailed("endpoint", "Invalid subscription")
	}
	sub := &model.PushSubscription{
		Username:  username,
		Endpoint:  endpoint,
		Auth:      authKey,
		P256dh:    p256dh,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.subs.UpsertSubscription(ctx, sub); err != nil {
		return err
	}
	s.logger.Info("push subscription saved", slog.String("username", username))
	return nil
}

// Unsubscribe deactivates the endpoint. Unknown endpoints are ignored.
func (s *PushService) Unsubscribe(ctx context.Context, endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return apperror.ValidationFailed("endpoint", "Endpoint is required")
	}
	err := s.subs.DeactivateSubscription(ctx, endpoint)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	return err
}

// SendHazard broadcasts a hazard warning to every active subscription.
func (s *PushService) SendHazard(ctx context.Context, title, body, category string) (notify.BroadcastResult, error) {
	if strings.TrimSpace(title) == "" {
		title = "Hazard alert"
	}
	return s.broadcast(ctx, notify.PushPayload{Title: title, Body: body, URL: "/map", Category: category})
}

// SendCommunity broadcasts a general announcement.
func (s *PushService) SendCommunity(ctx context.Context, title, body string) (notify.BroadcastResult, error) {
	if strings.TrimSpace(title) == "" {
		title = "Proteeti community update"
	}
	return s.broadcast(ctx, notify.PushPayload{Title: title, Body: body, URL: "/"})
}

func (s *PushService) broadcast(ctx context.Context, payload notify.PushPayload) (notify.BroadcastResult, error) {
	if strings.TrimSpace(payload.Body) == "" {
		return notify.BroadcastResult{}, apperror.ValidationFailed("body", "Message body is required")
	}
	subs, err := s.subs.ListActiveSubscriptions(ctx)
	if err != nil {
		return notify.BroadcastResult{}, err
	}
	res, err := s.push.Broadcast(ctx, subs, payload)
	if errors.Is(err, notify.ErrPushDisabled) {
		return res, apperror.ValidationFailed("", "Push notifications are not configured")
	}
	if err != nil {
		return res, err
	}
	s.logger.Info("push broadcast sent",
		slog.String("title", payload.Title),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Int("deactivated", res.Deactivated),
	)
	return res, nil
}
