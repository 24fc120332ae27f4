package handler

import (
	"net/http"
	"strconv"

	"github.com/sakif/proteeti/internal/export"
)

// HandleListUsers returns every user account.
//
// HTTP: GET /api/admin/users
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Admins.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]*userResponse, 0, len(users))
	for i := range users {
		out = append(out, newUserResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleListAlerts returns every SOS alert, newest first.
//
// HTTP: GET /api/admin/sos-alerts
func (h *AdminHandler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.svc.Alerts.ListAll(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// HandleResolveAlert marks an alert resolved. Resolving twice keeps the
// first timestamp.
//
// HTTP: POST /api/admin/sos-alerts/{id}/resolve
func (h *AdminHandler) HandleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	alert, err := h.svc.Alerts.Resolve(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// HandleDeleteReport removes a report.
//
// HTTP: DELETE /api/admin/reports/{id}
func (h *AdminHandler) HandleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.Reports.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Report deleted"})
}

// HTTP: GET /api/admin/analytics/overview
func (h *AdminHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.svc.Analytics.Overview(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// HTTP: GET /api/admin/analytics/trends
func (h *AdminHandler) HandleTrends(w http.ResponseWriter, r *http.Request) {
	trends, err := h.svc.Analytics.Trends(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

// HTTP: GET /api/admin/analytics/heatmap-data
func (h *AdminHandler) HandleHeatmap(w http.ResponseWriter, r *http.Request) {
	points, err := h.svc.Analytics.Heatmap(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// HTTP: GET /api/admin/ratings
func (h *AdminHandler) HandleRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := h.svc.Ratings.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

type broadcastRequest struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

// HandleSendHazard pushes a hazard warning to every subscriber.
//
// HTTP: POST /api/admin/push/send-hazard
// RESPONSE: 200 {"sent", "failed", "deactivated"}
func (h *AdminHandler) HandleSendHazard(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.Push.SendHazard(r.Context(), req.Title, req.Body, req.Category)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSendCommunity pushes a general announcement.
//
// HTTP: POST /api/admin/push/send-community
func (h *AdminHandler) HandleSendCommunity(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.Push.SendCommunity(r.Context(), req.Title, req.Body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleExportReports downloads every report as a workbook.
//
// HTTP: GET /api/admin/export/reports.xlsx
func (h *AdminHandler) HandleExportReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.Reports.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	data, err := export.Reports(reports)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.writeWorkbook(w, "reports", data)
}

// HandleExportAlerts downloads every SOS alert as a workbook.
//
// HTTP: GET /api/admin/export/alerts.xlsx
func (h *AdminHandler) HandleExportAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.svc.Alerts.ListAll(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	data, err := export.Alerts(alerts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.writeWorkbook(w, "alerts", data)
}

func (h *AdminHandler) writeWorkbook(w http.ResponseWriter, kind string, data []byte) {
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(kind, h.now())+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
