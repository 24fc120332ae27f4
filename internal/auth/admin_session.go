package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
)

const (
	adminSessionName = "proteeti_admin"

	keyLoggedIn = "admin_loggedin"
	keyUsername = "admin_username"
	keyID       = "admin_id"

	adminSessionMaxAge = 12 * 60 * 60

	adminKey contextKey = "admin"
)

// AdminIdentity is the admin stored in the session cookie.
type AdminIdentity struct {
	ID       int64
	Username string
}

// AdminLookup finds an admin by id. repository.AdminRepository satisfies it.
type AdminLookup interface {
	GetAdmin(ctx context.Context, id int64) (*model.Admin, error)
}

// AdminSessions manages the signed admin cookie.
type AdminSessions struct {
	store  *sessions.CookieStore
	admins AdminLookup
}

// NewAdminSessions creates the cookie store. secret signs the cookie; secure
// sets the Secure attribute and should be true behind TLS. When admins is
// non-nil, RequireAdmin also checks that the session's admin still exists.
func NewAdminSessions(secret string, secure bool, admins AdminLookup) *AdminSessions {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   adminSessionMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &AdminSessions{store: store, admins: admins}
}

// Login marks the session as belonging to admin.
func (a *AdminSessions) Login(w http.ResponseWriter, r *http.Request, admin AdminIdentity) error {
	// A cookie that fails to decode still yields a fresh, usable session.
	session, _ := a.store.Get(r, adminSessionName)
	session.Values[keyLoggedIn] = true
	session.Values[keyUsername] = admin.Username
	session.Values[keyID] = admin.ID
	return session.Save(r, w)
}

// Logout expires the admin cookie.
func (a *AdminSessions) Logout(w http.ResponseWriter, r *http.Request) error {
	session, _ := a.store.Get(r, adminSessionName)
	session.Values = map[any]any{}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// Current returns the admin in the session, if any.
func (a *AdminSessions) Current(r *http.Request) (AdminIdentity, bool) {
	session, err := a.store.Get(r, adminSessionName)
	if err != nil {
		return AdminIdentity{}, false
	}
	loggedIn, _ := session.Values[keyLoggedIn].(bool)
	username, _ := session.Values[keyUsername].(string)
	id, _ := session.Values[keyID].(int64)
	if !loggedIn || username == "" {
		return AdminIdentity{}, false
	}
	return AdminIdentity{ID: id, Username: username}, true
}

// RequireAdmin rejects requests without an admin session with 401. A session
// whose admin has since been deleted is cleared and rejected the same way.
func (a *AdminSessions) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin, ok := a.Current(r)
		if !ok {
			writeUnauthorized(w, "Admin login required")
			return
		}
		if a.admins != nil {
			if _, err := a.admins.GetAdmin(r.Context(), admin.ID); err != nil {
				if !errors.Is(err, apperror.ErrNotFound) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal_error","message":"An internal error occurred"}`))
					return
				}
				_ = a.Logout(w, r)
				writeUnauthorized(w, "Admin login required")
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(ContextWithAdmin(r.Context(), admin)))
	})
}

// AdminFromContext returns the admin attached by RequireAdmin.
func AdminFromContext(ctx context.Context) (AdminIdentity, bool) {
	admin, ok := ctx.Value(adminKey).(AdminIdentity)
	return admin, ok
}

// ContextWithAdmin attaches admin to ctx. Handler tests call it directly.
func ContextWithAdmin(ctx context.Context, admin AdminIdentity) context.Context {
	return context.WithValue(ctx, adminKey, admin)
}
