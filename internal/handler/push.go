package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/proteeti/internal/service"
)

// PushHandler manages browser Web Push subscriptions.
type PushHandler struct {
	push   *service.PushService
	logger *slog.Logger
}

func NewPushHandler(push *service.PushService, logger *slog.Logger) *PushHandler {
	return &PushHandler{push: push, logger: logger}
}

// HandlePublicKey returns the VAPID public key browsers subscribe with.
//
// HTTP: GET /api/push/vapid-public-key
// RESPONSE: 200 {"public_key": "..."}, 404 when push is not configured
func (h *PushHandler) HandlePublicKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.push.PublicKey()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": key})
}

// subscribeRequest mirrors PushSubscription.toJSON() in the browser.
type subscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		Auth   string `json:"auth" validate:"required"`
		P256dh string `json:"p256dh" validate:"required"`
	} `json:"keys"`
}

// HandleSubscribe stores or reactivates the caller's subscription.
//
// HTTP: POST /api/push/subscribe
// REQUEST BODY: {"endpoint": "https://...", "keys": {"auth": "...", "p256dh": "..."}}
func (h *PushHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.push.Subscribe(r.Context(), username, req.Endpoint, req.Keys.Auth, req.Keys.P256dh); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Subscribed"})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

// HandleUnsubscribe deactivates a subscription by endpoint.
//
// HTTP: POST /api/push/unsubscribe
func (h *PushHandler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if _, err := requireUsername(r); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req unsubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.push.Unsubscribe(r.Context(), req.Endpoint); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Unsubscribed"})
}
