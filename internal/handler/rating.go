package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/proteeti/internal/service"
)

type RatingHandler struct {
	ratings *service.RatingService
	logger  *slog.Logger
}

func NewRatingHandler(ratings *service.RatingService, logger *slog.Logger) *RatingHandler {
	return &RatingHandler{ratings: ratings, logger: logger}
}

type ratingRequest struct {
	Rating int `json:"rating" validate:"required,min=1,max=5"`
}

// HandleRate records the caller's star rating, replacing any earlier one.
//
// HTTP: POST /api/rating
// REQUEST BODY: {"rating": 4}
func (h *RatingHandler) HandleRate(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req ratingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	rating, err := h.ratings.Rate(r.Context(), username, req.Rating)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

// HandleGet returns the caller's rating, or 404 when there is none.
//
// HTTP: GET /api/rating
func (h *RatingHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rating, err := h.ratings.Get(r.Context(), username)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}
