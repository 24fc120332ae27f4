package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/service"
)

// PendingCookie carries the opaque pending-registration token between
// register and verify-email. The code and password never leave the server.
const PendingCookie = "pending_registration"

// AuthHandler runs sign-up, login and the OAuth round trip.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister      → store a pending registration, send the code
//   - HandleVerifyEmail   → create the user, issue the session cookie
//   - HandleLogin         → password login by username or email
//   - HandleLogout        → clear the session cookie
//   - HandleOAuthLogin    → redirect to Google or GitHub
//   - HandleOAuthCallback → exchange the code, sign in or create the user
//   - HandleDeleteAccount → remove the caller's account
type AuthHandler struct {
	accounts  *service.AuthService
	providers auth.Providers
	tokenTTL  time.Duration
	secure    bool
	logger    *slog.Logger
}

func NewAuthHandler(
	accounts *service.AuthService,
	providers auth.Providers,
	tokenTTL time.Duration,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts:  accounts,
		providers: providers,
		tokenTTL:  tokenTTL,
		secure:    secureCookies,
		logger:    logger,
	}
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type registerResponse struct {
	Message           string    `json:"message"`
	NeedsVerification bool      `json:"needs_verification"`
	ExpiresAt         time.Time `json:"expires_at"`
	DevCode           string    `json:"dev_code,omitempty"`
}

// HandleRegister starts a registration.
//
// HTTP: POST /register
// REQUEST BODY: {"username","email","password","confirm_password"}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.setCookie(w, PendingCookie, res.PendingToken, time.Until(res.ExpiresAt))
	writeJSON(w, http.StatusOK, registerResponse{
		Message:           "Verification code sent to your email",
		NeedsVerification: true,
		ExpiresAt:         res.ExpiresAt,
		DevCode:           res.DevCode,
	})
}

type verifyRequest struct {
	Code string `json:"code" validate:"required"`
}

type sessionResponse struct {
	Message         string        `json:"message"`
	User            *userResponse `json:"user"`
	NeedsOnboarding bool          `json:"needs_onboarding"`
}

// HandleVerifyEmail finishes a registration.
//
// HTTP: POST /verify-email
// REQUEST BODY: {"code": "123456"}
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var token string
	if c, err := r.Cookie(PendingCookie); err == nil {
		token = c.Value
	}

	res, err := h.accounts.VerifyEmail(r.Context(), token, req.Code)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.clearCookie(w, PendingCookie)
	h.setCookie(w, auth.TokenCookie, res.Token, h.tokenTTL)
	writeJSON(w, http.StatusOK, sessionResponse{
		Message:         "Email verified",
		User:            newUserResponse(res.User),
		NeedsOnboarding: true,
	})
}

type loginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

// HandleLogin signs a user in.
//
// HTTP: POST /login
// REQUEST BODY: {"username_or_email": "alice", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.setCookie(w, auth.TokenCookie, res.Token, h.tokenTTL)
	writeJSON(w, http.StatusOK, sessionResponse{
		Message:         "Logged in",
		User:            newUserResponse(res.User),
		NeedsOnboarding: needsOnboarding(res.User),
	})
}

// HandleLogout clears the session cookie. The JWT itself stays valid until
// it expires, but the browser no longer sends it.
//
// HTTP: GET /logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, auth.TokenCookie)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

// HandleOAuthLogin redirects to the provider's consent page.
//
// HTTP: GET /auth/{provider}/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// redirect. The callback only proceeds when both match.
func (h *AuthHandler) HandleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	p, err := h.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Unknown login provider"})
		return
	}

	state := auth.NewOpaqueToken()
	h.setCookie(w, auth.OAuthStateCookie, state, 10*time.Minute)
	http.Redirect(w, r, p.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleOAuthCallback completes the OAuth login.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for the provider's user info
//  3. Sign in the account with that email, creating it if needed
//  4. Issue the session cookie and redirect home
func (h *AuthHandler) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	p, err := h.providers.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Unknown login provider"})
		return
	}

	stateCookie, err := r.Cookie(auth.OAuthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("oauth callback: state mismatch", slog.String("provider", name))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "Invalid OAuth state"})
		return
	}
	// Single use.
	h.clearCookie(w, auth.OAuthStateCookie)

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("oauth callback: user denied authorization",
			slog.String("provider", name), slog.String("error", errParam))
		http.Redirect(w, r, "/login?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "Missing OAuth code"})
		return
	}

	ou, err := p.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed", slog.String("provider", name), slog.String("error", err.Error()))
		http.Redirect(w, r, "/login?auth=failed", http.StatusSeeOther)
		return
	}

	res, err := h.accounts.LoginOAuth(r.Context(), name, ou)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.setCookie(w, auth.TokenCookie, res.Token, h.tokenTTL)
	target := "/"
	if needsOnboarding(res.User) {
		target = "/onboarding"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// HandleDeleteAccount deletes the caller and ends the session.
//
// HTTP: POST /delete_account
// Auth: Required
func (h *AuthHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.accounts.DeleteAccount(r.Context(), username); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.clearCookie(w, auth.TokenCookie)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Account deleted"})
}

// setCookie writes an HttpOnly, SameSite=Lax cookie.
func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// userResponse is a user without the password hash.
type userResponse struct {
	*model.User
	HasPassword bool `json:"has_password"`
}

func newUserResponse(u *model.User) *userResponse {
	return &userResponse{User: u, HasPassword: u.HasPassword()}
}

// needsOnboarding is true until the first-run form stored a name.
func needsOnboarding(u *model.User) bool {
	return u.Profile.String("full_name") == ""
}

// requireUsername fetches the caller set by auth.RequireAuth. It only fails
// when a route was registered without that middleware.
func requireUsername(r *http.Request) (string, error) {
	username, ok := auth.UsernameFromContext(r.Context())
	if !ok {
		return "", apperror.Unauthorized("Login required")
	}
	return username, nil
}
