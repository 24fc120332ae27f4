package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/service"
)

// AdminServices groups what the admin console reads and changes.
type AdminServices struct {
	Admins    *service.AdminService
	Alerts    *service.SOSService
	Reports   *service.ReportService
	Analytics *service.AnalyticsService
	Ratings   *service.RatingService
	Push      *service.PushService
}

// AdminHandler serves /admin and /api/admin/*.
//
// AUTHENTICATION:
// Admins sign in with their own credentials into a signed cookie session
// (auth.AdminSessions), separate from the user JWT. Everything except
// setup and login sits behind AdminSessions.RequireAdmin, so the handlers
// here read the admin from the request context.
type AdminHandler struct {
	svc      AdminServices
	sessions *auth.AdminSessions
	logger   *slog.Logger
	now      func() time.Time
}

func NewAdminHandler(svc AdminServices, sessions *auth.AdminSessions, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, sessions: sessions, logger: logger, now: time.Now}
}

type adminCredentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type adminResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	IsCurrent bool      `json:"is_current"`
}

func newAdminResponse(a model.Admin, currentID int64) adminResponse {
	return adminResponse{ID: a.ID, Username: a.Username, CreatedAt: a.CreatedAt, IsCurrent: a.ID == currentID}
}

// HandleSetupStatus tells the console whether first-run setup is open.
//
// HTTP: GET /admin/setup
// RESPONSE: 200 {"setup_required": true}, 403 once an admin exists
func (h *AdminHandler) HandleSetupStatus(w http.ResponseWriter, r *http.Request) {
	required, err := h.svc.Admins.SetupRequired(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !required {
		writeError(w, r, h.logger, apperror.Forbidden("Admin already configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"setup_required": true})
}

// HandleSetup creates the first admin and signs them in.
//
// HTTP: POST /admin/setup
// REQUEST BODY: {"username", "password"}
func (h *AdminHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	var req adminCredentials
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	admin, err := h.svc.Admins.Setup(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.sessions.Login(w, r, auth.AdminIdentity{ID: admin.ID, Username: admin.Username}); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAdminResponse(*admin, admin.ID))
}

// HandleLogin starts an admin session.
//
// HTTP: POST /admin/login
func (h *AdminHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req adminCredentials
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	admin, err := h.svc.Admins.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.sessions.Login(w, r, auth.AdminIdentity{ID: admin.ID, Username: admin.Username}); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAdminResponse(*admin, admin.ID))
}

// HandleLogout ends the admin session.
//
// HTTP: GET /admin/logout
func (h *AdminHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(w, r); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

type dashboardResponse struct {
	Admin    adminResponse   `json:"admin"`
	Overview *model.Overview `json:"overview"`
}

// HandleDashboard returns the signed-in admin and the headline numbers.
//
// HTTP: GET /admin
func (h *AdminHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	current, err := requireAdmin(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	overview, err := h.svc.Analytics.Overview(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		Admin:    adminResponse{ID: current.ID, Username: current.Username, IsCurrent: true},
		Overview: overview,
	})
}

// HandleListAdmins lists every admin and marks the caller.
//
// HTTP: GET /api/admin/admins
func (h *AdminHandler) HandleListAdmins(w http.ResponseWriter, r *http.Request) {
	current, err := requireAdmin(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	admins, err := h.svc.Admins.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]adminResponse, 0, len(admins))
	for _, a := range admins {
		out = append(out, newAdminResponse(a, current.ID))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCreateAdmin adds another admin.
//
// HTTP: POST /api/admin/admins
// RESPONSE: 201, 409 when the username is taken
func (h *AdminHandler) HandleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	current, err := requireAdmin(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req adminCredentials
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	admin, err := h.svc.Admins.Create(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAdminResponse(*admin, current.ID))
}

// HandleDeleteAdmin removes another admin.
//
// HTTP: DELETE /api/admin/admins/{id}
func (h *AdminHandler) HandleDeleteAdmin(w http.ResponseWriter, r *http.Request) {
	current, err := requireAdmin(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.svc.Admins.Delete(r.Context(), current.ID, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Admin deleted"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// HandleChangePassword replaces the caller's password.
//
// HTTP: POST /api/admin/change-password
func (h *AdminHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	current, err := requireAdmin(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.svc.Admins.ChangePassword(r.Context(), current.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password changed"})
}

// HandleDeleteSelf removes the caller's admin account and ends the session.
//
// HTTP: POST /api/admin/delete-account
func (h *AdminHandler) HandleDeleteSelf(w http.ResponseWriter, r *http.Request) {
	current, err := requireAdmin(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.Admins.DeleteSelf(r.Context(), current.ID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.sessions.Logout(w, r); err != nil {
		h.logger.Warn("clearing admin session failed", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Admin account deleted"})
}

func requireAdmin(r *http.Request) (auth.AdminIdentity, error) {
	admin, ok := auth.AdminFromContext(r.Context())
	if !ok {
		return auth.AdminIdentity{}, apperror.Unauthorized("Admin login required")
	}
	return admin, nil
}
