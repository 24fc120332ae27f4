package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/service"
)

// audioFormMemory is how much of a multipart upload stays in memory before
// spilling to a temp file.
const audioFormMemory = 8 << 20

// SOSHandler raises emergency alerts and reports on their delivery.
type SOSHandler struct {
	alerts *service.SOSService
	logger *slog.Logger
}

func NewSOSHandler(alerts *service.SOSService, logger *slog.Logger) *SOSHandler {
	return &SOSHandler{alerts: alerts, logger: logger}
}

// sosRequest accepts both the browser's latitude/longitude keys and the
// short lat/lng form.
type sosRequest struct {
	Latitude  any `json:"latitude"`
	Longitude any `json:"longitude"`
	Lat       any `json:"lat"`
	Lng       any `json:"lng"`
	Accuracy  any `json:"accuracy"`
}

func (req sosRequest) coordinates() (lat, lng any) {
	lat, lng = req.Latitude, req.Longitude
	if lat == nil {
		lat = req.Lat
	}
	if lng == nil {
		lng = req.Lng
	}
	return lat, lng
}

// HandleSend stores an alert and notifies the caller's trusted contacts.
//
// HTTP: POST /send_sos
// REQUEST BODY: {"latitude": 23.81, "longitude": 90.41, "accuracy": 12}
// RESPONSE: 200 {"alert_id", "message", "notification_status", "notifications"?}
func (h *SOSHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req sosRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	lat, lng := req.coordinates()
	res, err := h.alerts.Send(r.Context(), username, service.SOSInput{Lat: lat, Lng: lng, Accuracy: req.Accuracy})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSendAudio forwards a recording to the trusted contacts.
//
// HTTP: POST /send_sos_audio
// REQUEST: multipart/form-data with file field "audio" and optional "alert_id"
func (h *SOSHandler) HandleSendAudio(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// Room for the multipart framing around a maximum-size recording.
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxAudioBytes+maxBodyBytes)
	if err := r.ParseMultipartForm(audioFormMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, h.logger, apperror.ValidationFailed("audio", "Audio recording is too large"))
			return
		}
		writeError(w, r, h.logger, apperror.ValidationFailed("audio", "No audio file"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	alertID, err := optionalID(r.FormValue("alert_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("audio", "No audio file"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, service.MaxAudioBytes+1))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.alerts.AttachAudio(r.Context(), username, alertID, audio)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleListMine returns the caller's alerts, newest first.
//
// HTTP: GET /api/sos-alerts
func (h *SOSHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	alerts, err := h.alerts.ListMine(r.Context(), username)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// HandleAttempts lists delivery attempts for one of the caller's alerts.
// Async clients poll this until nothing is pending.
//
// HTTP: GET /api/sos/{id}/notifications
func (h *SOSHandler) HandleAttempts(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	attempts, err := h.alerts.Attempts(r.Context(), username, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

// optionalID parses a form value that may be absent.
func optionalID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("alert_id", "Invalid alert_id")
	}
	return id, nil
}
