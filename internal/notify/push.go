package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

// ErrPushDisabled is returned when no VAPID key pair is configured.
var ErrPushDisabled = errors.New("notify: web push is not configured")

// PushPayload is the JSON document the service worker receives.
type PushPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url,omitempty"`
	Category string `json:"category,omitempty"`
}

// BroadcastResult summarises one fan-out.
type BroadcastResult struct {
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	Deactivated int `json:"deactivated"`
}

// VAPIDKeys signs push requests.
type VAPIDKeys struct {
	Public     string
	Private    string
	Subscriber string
}

// Pusher sends Web Push notifications and retires subscriptions the push
// service no longer knows.
type Pusher struct {
	keys   VAPIDKeys
	subs   repository.PushRepository
	logger *slog.Logger
	ttl    int
}

// NewPusher creates a Pusher. With empty keys every send returns
// ErrPushDisabled.
func NewPusher(keys VAPIDKeys, subs repository.PushRepository, logger *slog.Logger) *Pusher {
	return &Pusher{keys: keys, subs: subs, logger: logger, ttl: 3600}
}

// Enabled reports whether a key pair is configured.
func (p *Pusher) Enabled() bool {
	return p.keys.Public != "" && p.keys.Private != ""
}

// PublicKey is handed to browsers so they can subscribe.
func (p *Pusher) PublicKey() string {
	return p.keys.Public
}

// Broadcast sends payload to every subscription. A 404 or 410 from the push
// service deactivates that subscription; other failures are only counted.
func (p *Pusher) Broadcast(ctx context.Context, subs []model.PushSubscription, payload PushPayload) (BroadcastResult, error) {
	var res BroadcastResult
	if !p.Enabled() {
		return res, ErrPushDisabled
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return res, fmt.Errorf("notify: encoding push payload: %w", err)
	}

	for _, sub := range subs {
		status, err := p.send(ctx, sub, body)
		switch {
		case err == nil && status < 300:
			res.Sent++
			pushTotal.WithLabelValues("sent").Inc()
		case status == http.StatusNotFound || status == http.StatusGone:
			res.Failed++
			pushTotal.WithLabelValues("gone").Inc()
			if derr := p.subs.DeactivateSubscription(ctx, sub.Endpoint); derr != nil {
				p.logger.Error("deactivating push subscription failed", slog.String("error", derr.Error()))
				continue
			}
			res.Deactivated++
		default:
			res.Failed++
			pushTotal.WithLabelValues("failed").Inc()
			attrs := []any{slog.Int("status", status)}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			p.logger.Warn("web push failed", attrs...)
		}
	}
	return res, nil
}

// send returns the push service's status code, or 0 when no response arrived.
func (p *Pusher) send(ctx context.Context, sub model.PushSubscription, body []byte) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		Subscriber:      p.keys.Subscriber,
		VAPIDPublicKey:  p.keys.Public,
		VAPIDPrivateKey: p.keys.Private,
		TTL:             p.ttl,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// GenerateVAPIDKeys creates a fresh key pair for a new deployment.
func GenerateVAPIDKeys() (public, private string, err error) {
	private, public, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("notify: generating vapid keys: %w", err)
	}
	return public, private, nil
}
