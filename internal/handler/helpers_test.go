package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/emailcheck"
	"github.com/sakif/proteeti/internal/handler"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/notify"
	"github.com/sakif/proteeti/internal/repository/sqlite"
	"github.com/sakif/proteeti/internal/service"
	"github.com/sakif/proteeti/internal/storage"
)

// =============================================================================
// Test environment
// =============================================================================
//
// Handlers run behind a chi router with the real auth middleware, on top of
// real services and an in-memory database. Only SMTP and Web Push are faked.

type fakeMailer struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *fakeMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeBroadcaster struct {
	enabled bool
	calls   int
}

func (b *fakeBroadcaster) Enabled() bool     { return b.enabled }
func (b *fakeBroadcaster) PublicKey() string { return "test-public-key" }

func (b *fakeBroadcaster) Broadcast(_ context.Context, subs []model.PushSubscription, _ notify.PushPayload) (notify.BroadcastResult, error) {
	if !b.enabled {
		return notify.BroadcastResult{}, notify.ErrPushDisabled
	}
	b.calls++
	return notify.BroadcastResult{Sent: len(subs)}, nil
}

// fakeProvider stands in for Google or GitHub.
type fakeProvider struct {
	user *auth.OAuthUser
	err  error
}

func (p *fakeProvider) Name() string { return "google" }

func (p *fakeProvider) AuthURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (p *fakeProvider) Exchange(context.Context, string) (*auth.OAuthUser, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.user, nil
}

type testEnv struct {
	t        *testing.T
	db       *sqlite.DB
	router   chi.Router
	tokens   *auth.TokenService
	mailer   *fakeMailer
	push     *fakeBroadcaster
	provider *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", 0)
	require.NoError(t, err)
	passwords := auth.NewPasswordServiceForTest(4)

	env := &testEnv{
		t:        t,
		db:       db,
		tokens:   tokens,
		mailer:   &fakeMailer{},
		push:     &fakeBroadcaster{},
		provider: &fakeProvider{},
	}

	dispatcher := notify.NewDispatcher(env.mailer, db, notify.DispatcherConfig{}, logger)
	accounts := service.NewAuthService(db, db, tokens, passwords, emailcheck.NoopChecker{}, env.mailer,
		service.AuthOptions{ExposeCode: true}, logger)
	profiles := service.NewProfileService(db, logger)
	alerts := service.NewSOSService(db, db, db, dispatcher, storage.NoopStore{}, notify.NoopPublisher{}, logger)
	reports := service.NewReportService(db, db, db, env.push, logger)
	maps := service.NewMapService(db, db)
	ratings := service.NewRatingService(db, logger)
	push := service.NewPushService(db, env.push, logger)
	admins := service.NewAdminService(db, db, passwords, logger)
	analytics := service.NewAnalyticsService(db, db, db)

	authH := handler.NewAuthHandler(accounts, auth.Providers{"google": env.provider}, tokens.TTL(), false, logger)
	profileH := handler.NewProfileHandler(accounts, profiles, logger)
	sosH := handler.NewSOSHandler(alerts, logger)
	reportH := handler.NewReportHandler(reports, maps, logger)
	ratingH := handler.NewRatingHandler(ratings, logger)
	pushH := handler.NewPushHandler(push, logger)
	sessions := auth.NewAdminSessions("handler-test-session-secret", false, db)
	adminH := handler.NewAdminHandler(handler.AdminServices{
		Admins:    admins,
		Alerts:    alerts,
		Reports:   reports,
		Analytics: analytics,
		Ratings:   ratings,
		Push:      push,
	}, sessions, logger)

	r := chi.NewRouter()
	r.Post("/register", authH.HandleRegister)
	r.Post("/verify-email", authH.HandleVerifyEmail)
	r.Post("/login", authH.HandleLogin)
	r.Get("/logout", authH.HandleLogout)
	r.Get("/auth/{provider}/login", authH.HandleOAuthLogin)
	r.Get("/auth/{provider}/callback", authH.HandleOAuthCallback)
	r.Get("/api/reports", reportH.HandleList)
	r.Get("/api/push/vapid-public-key", pushH.HandlePublicKey)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/account", profileH.HandleAccount)
		r.Post("/update_account", profileH.HandleUpdateAccount)
		r.Post("/onboarding", profileH.HandleOnboarding)
		r.Post("/edit-profile", profileH.HandleEditProfile)
		r.Post("/add_trusted_contact", profileH.HandleAddContact)
		r.Post("/remove_trusted_contact", profileH.HandleRemoveContact)
		r.Post("/delete_account", authH.HandleDeleteAccount)
		r.Post("/send_sos", sosH.HandleSend)
		r.Post("/send_sos_audio", sosH.HandleSendAudio)
		r.Get("/api/sos-alerts", sosH.HandleListMine)
		r.Get("/api/sos/{id}/notifications", sosH.HandleAttempts)
		r.Post("/submit_report", reportH.HandleSubmit)
		r.Get("/map", reportH.HandleMap)
		r.Get("/resources", reportH.HandleResources)
		r.Get("/api/rating", ratingH.HandleGet)
		r.Post("/api/rating", ratingH.HandleRate)
		r.Post("/api/push/subscribe", pushH.HandleSubscribe)
		r.Post("/api/push/unsubscribe", pushH.HandleUnsubscribe)
	})

	r.Get("/admin/setup", adminH.HandleSetupStatus)
	r.Post("/admin/setup", adminH.HandleSetup)
	r.Post("/admin/login", adminH.HandleLogin)
	r.Get("/admin/logout", adminH.HandleLogout)
	r.With(sessions.RequireAdmin).Get("/admin", adminH.HandleDashboard)
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(sessions.RequireAdmin)
		r.Get("/users", adminH.HandleListUsers)
		r.Get("/sos-alerts", adminH.HandleListAlerts)
		r.Post("/sos-alerts/{id}/resolve", adminH.HandleResolveAlert)
		r.Delete("/reports/{id}", adminH.HandleDeleteReport)
		r.Get("/admins", adminH.HandleListAdmins)
		r.Post("/admins", adminH.HandleCreateAdmin)
		r.Delete("/admins/{id}", adminH.HandleDeleteAdmin)
		r.Post("/change-password", adminH.HandleChangePassword)
		r.Post("/delete-account", adminH.HandleDeleteSelf)
		r.Get("/analytics/overview", adminH.HandleOverview)
		r.Get("/analytics/trends", adminH.HandleTrends)
		r.Get("/analytics/heatmap-data", adminH.HandleHeatmap)
		r.Get("/ratings", adminH.HandleRatings)
		r.Post("/push/send-hazard", adminH.HandleSendHazard)
		r.Post("/push/send-community", adminH.HandleSendCommunity)
		r.Get("/export/reports.xlsx", adminH.HandleExportReports)
		r.Get("/export/alerts.xlsx", adminH.HandleExportAlerts)
	})

	env.router = r
	return env
}

// =============================================================================
// Requests
// =============================================================================

type reqOption func(*http.Request)

// asUser attaches a valid session cookie for username.
func (e *testEnv) asUser(username string) reqOption {
	token, err := e.tokens.Generate(username)
	require.NoError(e.t, err)
	return withCookies(&http.Cookie{Name: auth.TokenCookie, Value: token})
}

func withCookies(cookies ...*http.Cookie) reqOption {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

// do sends body as JSON unless it is already an io.Reader.
func (e *testEnv) do(method, path string, body any, opts ...reqOption) *httptest.ResponseRecorder {
	e.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// seedUser stores a verified user with a password of "password123".
func (e *testEnv) seedUser(username string, contacts ...model.TrustedContact) *model.User {
	e.t.Helper()
	hash, err := auth.NewPasswordServiceForTest(4).Hash("password123")
	require.NoError(e.t, err)
	u := &model.User{
		Username:          username,
		Email:             username + "@example.com",
		PasswordHash:      hash,
		Verified:          true,
		Profile:           model.Profile{},
		TrustedContacts:   contacts,
		NotificationPrefs: model.DefaultNotificationPrefs(),
	}
	require.NoError(e.t, e.db.CreateUser(context.Background(), u))
	return u
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

var errExchange = errors.New("provider unavailable")

// withContentType overrides the JSON content type set by do.
func withContentType(ct string) reqOption {
	return func(r *http.Request) {
		r.Header.Set("Content-Type", ct)
	}
}
