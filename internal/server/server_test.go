package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/config"
	"github.com/sakif/proteeti/internal/handler"
	"github.com/sakif/proteeti/internal/notify"
	"github.com/sakif/proteeti/internal/server"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.To)
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, DevMode: true},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Auth: config.AuthConfig{
			JWTSecret:     "server-test-jwt-secret",
			JWTTTL:        time.Hour,
			SessionSecret: "server-test-session-secret",
			PendingTTL:    10 * time.Minute,
		},
		Notify:    config.NotifyConfig{Workers: 1},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 3, Burst: 0},
	}
}

func newTestServer(t *testing.T) (*server.Server, *recordingMailer) {
	t.Helper()
	mailer := &recordingMailer{}
	return startServer(t, testConfig(), server.Dependencies{Mailer: mailer}), mailer
}

func startServer(t *testing.T, cfg *config.Config, deps server.Dependencies) *server.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	deps.Passwords = auth.NewPasswordServiceForTest(4)

	srv, err := server.New(cfg, deps, logger)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func send(t *testing.T, h http.Handler, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func cookie(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("response has no %s cookie", name)
	return nil
}

// =============================================================================
// Operations endpoints
// =============================================================================

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := send(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	send(t, h, http.MethodGet, "/healthz", nil)
	rr := send(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "proteeti_http_requests_total")
}

// =============================================================================
// End to end
// =============================================================================

func TestRegisterVerifyAndSendSOS(t *testing.T) {
	srv, mailer := newTestServer(t)
	h := srv.Handler()

	rr := send(t, h, http.MethodPost, "/register", map[string]string{
		"username":         "alice",
		"email":            "alice@example.com",
		"password":         "password123",
		"confirm_password": "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var reg struct {
		DevCode string `json:"dev_code"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&reg))
	require.Len(t, reg.DevCode, 6)
	pending := cookie(t, rr, handler.PendingCookie)

	rr = send(t, h, http.MethodPost, "/verify-email", map[string]string{"code": reg.DevCode}, pending)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	session := cookie(t, rr, auth.TokenCookie)

	rr = send(t, h, http.MethodPost, "/add_trusted_contact",
		map[string]string{"name": "Bob", "email": "bob@example.com"}, session)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = send(t, h, http.MethodPost, "/send_sos", map[string]float64{"lat": 23.81, "lng": 90.41}, session)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, mailer.recipients(), "bob@example.com")
	var sos struct {
		AlertID int64 `json:"alert_id"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&sos))
	require.Positive(t, sos.AlertID)

	rr = send(t, h, http.MethodGet, "/api/sos-alerts", nil, session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"active"`)

	// An admin resolves the alert.
	admin := map[string]string{"username": "root", "password": "correct horse"}
	rr = send(t, h, http.MethodPost, "/admin/setup", admin)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = send(t, h, http.MethodPost, "/admin/login", admin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	adminSession := cookie(t, rr, "proteeti_admin")

	resolvePath := "/api/admin/sos-alerts/" + strconv.FormatInt(sos.AlertID, 10) + "/resolve"
	for i := 0; i < 2; i++ {
		rr = send(t, h, http.MethodPost, resolvePath, nil, adminSession)
		require.Equal(t, http.StatusOK, rr.Code, "resolve %d: %s", i+1, rr.Body.String())
		assert.Contains(t, rr.Body.String(), `"status":"resolved"`)
	}

	rr = send(t, h, http.MethodGet, "/api/sos-alerts", nil, session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"resolved"`)
	assert.NotContains(t, rr.Body.String(), `"status":"active"`)
}

func TestRegister_CodeInResponseWithoutSMTP(t *testing.T) {
	register := map[string]string{
		"username":         "alice",
		"email":            "alice@example.com",
		"password":         "password123",
		"confirm_password": "password123",
	}
	var body struct {
		DevCode string `json:"dev_code"`
	}

	// No mailer outside dev mode.
	cfg := testConfig()
	cfg.Server.DevMode = false
	srv := startServer(t, cfg, server.Dependencies{})

	rr := send(t, srv.Handler(), http.MethodPost, "/register", register)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Len(t, body.DevCode, 6)

	// A real mailer outside dev mode keeps the code out of the response.
	mailer := &recordingMailer{}
	srv = startServer(t, cfg, server.Dependencies{Mailer: mailer})

	rr = send(t, srv.Handler(), http.MethodPost, "/register", register)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "dev_code")
	assert.Equal(t, []string{"alice@example.com"}, mailer.recipients())
}

func TestRoutesRequireLogin(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/account", "/profile", "/map", "/api/sos-alerts"} {
		rr := send(t, srv.Handler(), http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
	rr := send(t, srv.Handler(), http.MethodGet, "/api/admin/users", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoginIsRateLimited(t *testing.T) {
	srv, _ := newTestServer(t)
	body := map[string]string{"username_or_email": "nobody", "password": "whatever"}

	for i := 0; i < 3; i++ {
		rr := send(t, srv.Handler(), http.MethodPost, "/login", body)
		require.Equal(t, http.StatusUnauthorized, rr.Code, "attempt %d", i+1)
	}
	rr := send(t, srv.Handler(), http.MethodPost, "/login", body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	// Other routes keep their own budget.
	rr = send(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
