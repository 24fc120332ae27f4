package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/proteeti/internal/service"
)

// ReportHandler serves hazard reports and the map built from them.
type ReportHandler struct {
	reports *service.ReportService
	maps    *service.MapService
	logger  *slog.Logger
}

func NewReportHandler(reports *service.ReportService, maps *service.MapService, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, maps: maps, logger: logger}
}

type reportRequest struct {
	Lat         any    `json:"lat"`
	Lng         any    `json:"lng"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// HandleSubmit stores a hazard report.
//
// HTTP: POST /submit_report
// REQUEST BODY: {"lat", "lng", "category", "description"}
// RESPONSE: 201 with the stored report
func (h *ReportHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req reportRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	report, err := h.reports.Submit(r.Context(), username, service.ReportInput{
		Lat:         req.Lat,
		Lng:         req.Lng,
		Category:    req.Category,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// HandleList returns every report, newest first. Public.
//
// HTTP: GET /api/reports
func (h *ReportHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// HandleMap returns the map center for the caller plus every report.
//
// HTTP: GET /map
func (h *ReportHandler) HandleMap(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	view, err := h.maps.Map(r.Context(), username)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleResources returns the center used by the resources page.
//
// HTTP: GET /resources
func (h *ReportHandler) HandleResources(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	center, err := h.maps.ResourcesCenter(r.Context(), username)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"center": center})
}
