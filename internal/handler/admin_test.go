package handler_test

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/proteeti/internal/model"
)

const adminCookie = "proteeti_admin"

type adminBody struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	IsCurrent bool   `json:"is_current"`
}

// setupAdmin runs first-run setup and returns the session cookie.
func setupAdmin(t *testing.T, env *testEnv) *http.Cookie {
	t.Helper()
	rr := env.do(http.MethodPost, "/admin/setup", map[string]string{"username": "root", "password": "correct horse"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	c := findCookie(rr, adminCookie)
	require.NotNil(t, c)
	return c
}

func TestAdminSetup(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/admin/setup", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodPost, "/admin/setup", map[string]string{"username": "root", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	session := setupAdmin(t, env)

	rr = env.do(http.MethodGet, "/admin", nil, withCookies(session))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"username":"root"`)
	assert.Contains(t, rr.Body.String(), `"overview"`)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rr = env.do(method, "/admin/setup", map[string]string{"username": "again", "password": "correct horse"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "Admin already configured", decode[errorBody](t, rr).Message)
	}
}

func TestAdminLoginLogout(t *testing.T) {
	env := newTestEnv(t)
	setupAdmin(t, env)

	rr := env.do(http.MethodPost, "/admin/login", map[string]string{"username": "root", "password": "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(http.MethodPost, "/admin/login", map[string]string{"username": "root"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "password is required", decode[errorBody](t, rr).Message)

	rr = env.do(http.MethodPost, "/admin/login", map[string]string{"username": "root", "password": "correct horse"})
	require.Equal(t, http.StatusOK, rr.Code)
	session := findCookie(rr, adminCookie)
	require.NotNil(t, session)

	rr = env.do(http.MethodGet, "/admin/logout", nil, withCookies(session))
	require.Equal(t, http.StatusOK, rr.Code)
	cleared := findCookie(rr, adminCookie)
	require.NotNil(t, cleared)
	assert.LessOrEqual(t, cleared.MaxAge, 0)
}

func TestAdminAPI_RequiresSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("alice")

	for _, path := range []string{"/admin", "/api/admin/users", "/api/admin/analytics/overview"} {
		rr := env.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}

	// A user session is not an admin session.
	rr := env.do(http.MethodGet, "/api/admin/users", nil, env.asUser("alice"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminAccounts(t *testing.T) {
	env := newTestEnv(t)
	session := setupAdmin(t, env)
	as := withCookies(session)

	rr := env.do(http.MethodPost, "/api/admin/admins", map[string]string{"username": "bob", "password": "bobs password"}, as)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	bob := decode[adminBody](t, rr)
	assert.False(t, bob.IsCurrent)

	rr = env.do(http.MethodPost, "/api/admin/admins", map[string]string{"username": "bob", "password": "bobs password"}, as)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(http.MethodGet, "/api/admin/admins", nil, as)
	require.Equal(t, http.StatusOK, rr.Code)
	admins := decode[[]adminBody](t, rr)
	require.Len(t, admins, 2)
	assert.True(t, admins[0].IsCurrent)
	assert.False(t, admins[1].IsCurrent)
	assert.NotContains(t, rr.Body.String(), "password")

	rr = env.do(http.MethodDelete, "/api/admin/admins/"+strconv.FormatInt(admins[0].ID, 10), nil, as)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "self delete goes through delete-account")

	rr = env.do(http.MethodDelete, "/api/admin/admins/999", nil, as)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(http.MethodPost, "/admin/login", map[string]string{"username": "bob", "password": "bobs password"})
	require.Equal(t, http.StatusOK, rr.Code)
	bobSession := withCookies(findCookie(rr, adminCookie))

	rr = env.do(http.MethodDelete, "/api/admin/admins/"+strconv.FormatInt(bob.ID, 10), nil, as)
	require.Equal(t, http.StatusOK, rr.Code)

	// A deleted admin's session stops working at once.
	rr = env.do(http.MethodGet, "/api/admin/users", nil, bobSession)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(http.MethodPost, "/api/admin/delete-account", nil, as)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Cannot delete the last admin", decode[errorBody](t, rr).Message)
}

func TestAdminDeleteSelf(t *testing.T) {
	env := newTestEnv(t)
	setupAdmin(t, env)

	rr := env.do(http.MethodPost, "/admin/login", map[string]string{"username": "root", "password": "correct horse"})
	require.Equal(t, http.StatusOK, rr.Code)
	root := withCookies(findCookie(rr, adminCookie))

	rr = env.do(http.MethodPost, "/api/admin/admins", map[string]string{"username": "bob", "password": "bobs password"}, root)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(http.MethodPost, "/api/admin/delete-account", nil, root)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	cleared := findCookie(rr, adminCookie)
	require.NotNil(t, cleared)
	assert.LessOrEqual(t, cleared.MaxAge, 0)

	rr = env.do(http.MethodPost, "/admin/login", map[string]string{"username": "root", "password": "correct horse"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminChangePassword(t *testing.T) {
	env := newTestEnv(t)
	as := withCookies(setupAdmin(t, env))

	rr := env.do(http.MethodPost, "/api/admin/change-password",
		map[string]string{"current_password": "wrong", "new_password": "new password"}, as)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Current password is incorrect", decode[errorBody](t, rr).Message)

	rr = env.do(http.MethodPost, "/api/admin/change-password",
		map[string]string{"current_password": "correct horse", "new_password": "short"}, as)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(http.MethodPost, "/api/admin/change-password",
		map[string]string{"current_password": "correct horse", "new_password": "battery staple"}, as)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodPost, "/admin/login", map[string]string{"username": "root", "password": "battery staple"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminAlertsAndReports(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("alice")
	as := withCookies(setupAdmin(t, env))

	rr := env.do(http.MethodPost, "/send_sos", `{"lat": 23.8, "lng": 90.4}`, env.asUser("alice"))
	require.Equal(t, http.StatusOK, rr.Code)
	alertID := strconv.FormatInt(decode[sosBody](t, rr).AlertID, 10)

	rr = env.do(http.MethodPost, "/submit_report", map[string]any{"lat": 23.8, "lng": 90.4, "category": "flood"}, env.asUser("alice"))
	require.Equal(t, http.StatusCreated, rr.Code)
	reportID := strconv.FormatInt(decode[model.Report](t, rr).ID, 10)

	rr = env.do(http.MethodGet, "/api/admin/users", nil, as)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"username":"alice"`)
	assert.NotContains(t, rr.Body.String(), "password_hash")

	rr = env.do(http.MethodGet, "/api/admin/sos-alerts", nil, as)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]model.SOSAlert](t, rr), 1)

	rr = env.do(http.MethodPost, "/api/admin/sos-alerts/"+alertID+"/resolve", nil, as)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	first := decode[model.SOSAlert](t, rr)
	assert.Equal(t, model.AlertResolved, first.Status)
	require.NotNil(t, first.ResolvedAt)

	rr = env.do(http.MethodPost, "/api/admin/sos-alerts/"+alertID+"/resolve", nil, as)
	require.Equal(t, http.StatusOK, rr.Code)
	second := decode[model.SOSAlert](t, rr)
	assert.True(t, first.ResolvedAt.Equal(*second.ResolvedAt), "resolving twice keeps the first timestamp")

	rr = env.do(http.MethodPost, "/api/admin/sos-alerts/999/resolve", nil, as)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(http.MethodDelete, "/api/admin/reports/"+reportID, nil, as)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(http.MethodDelete, "/api/admin/reports/"+reportID, nil, as)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminAnalytics(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("alice")
	as := withCookies(setupAdmin(t, env))

	rr := env.do(http.MethodPost, "/submit_report", map[string]any{"lat": 23.8, "lng": 90.4, "category": "flood"}, env.asUser("alice"))
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = env.do(http.MethodPost, "/send_sos", `{"lat": 23.7, "lng": 90.3}`, env.asUser("alice"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodGet, "/api/admin/analytics/overview", nil, as)
	require.Equal(t, http.StatusOK, rr.Code)
	overview := decode[model.Overview](t, rr)
	assert.Equal(t, 1, overview.TotalUsers)
	assert.Equal(t, 1, overview.TotalReports)
	assert.Equal(t, 1, overview.ActiveSOS)
	assert.Equal(t, map[string]int{"flood": 1}, overview.ReportsCategory)

	rr = env.do(http.MethodGet, "/api/admin/analytics/trends", nil, as)
	require.Equal(t, http.StatusOK, rr.Code)
	trends := decode[model.Trends](t, rr)
	assert.Len(t, trends.Dates, 7)
	assert.Equal(t, 1, trends.Reports[6])
	assert.Equal(t, 1, trends.SOS[6])

	rr = env.do(http.MethodGet, "/api/admin/analytics/heatmap-data", nil, as)
	require.Equal(t, http.StatusOK, rr.Code)
	points := decode[[]model.HeatPoint](t, rr)
	require.Len(t, points, 2)
	assert.ElementsMatch(t, []int{1, 3}, []int{points[0].Intensity, points[1].Intensity})
}

func TestAdminRatings(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("alice")
	as := withCookies(setupAdmin(t, env))

	rr := env.do(http.MethodPost, "/api/rating", map[string]int{"rating": 5}, env.asUser("alice"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodGet, "/api/admin/ratings", nil, as)
	require.Equal(t, http.StatusOK, rr.Code)
	ratings := decode[[]model.StarRating](t, rr)
	require.Len(t, ratings, 1)
	assert.Equal(t, 5, ratings[0].Rating)
}

func TestAdminPushBroadcast(t *testing.T) {
	env := newTestEnv(t)
	as := withCookies(setupAdmin(t, env))

	rr := env.do(http.MethodPost, "/api/admin/push/send-hazard", map[string]string{"body": "Flooding on Airport Road"}, as)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Push notifications are not configured", decode[errorBody](t, rr).Message)

	env.push.enabled = true
	require.NoError(t, env.db.UpsertSubscription(context.Background(), &model.PushSubscription{
		Username: "alice", Endpoint: "https://push.example.com/1", Auth: "a", P256dh: "p",
	}))

	rr = env.do(http.MethodPost, "/api/admin/push/send-hazard", map[string]string{"body": "Flooding on Airport Road", "category": "flood"}, as)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, decode[map[string]int](t, rr)["sent"])

	rr = env.do(http.MethodPost, "/api/admin/push/send-community", map[string]string{"title": "Hello"}, as)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "body is required")

	rr = env.do(http.MethodPost, "/api/admin/push/send-community", map[string]string{"body": "Stay safe"}, as)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, env.push.calls)
}

func TestAdminExport(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("alice")
	as := withCookies(setupAdmin(t, env))

	rr := env.do(http.MethodPost, "/submit_report", map[string]any{"lat": 23.8, "lng": 90.4, "category": "flood"}, env.asUser("alice"))
	require.Equal(t, http.StatusCreated, rr.Code)

	for _, kind := range []string{"reports", "alerts"} {
		rr = env.do(http.MethodGet, "/api/admin/export/"+kind+".xlsx", nil, as)
		require.Equal(t, http.StatusOK, rr.Code, kind)
		assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rr.Header().Get("Content-Type"))
		assert.Contains(t, rr.Header().Get("Content-Disposition"), "proteeti-"+kind+"-")
		// xlsx files are zip archives.
		assert.Equal(t, "PK", rr.Body.String()[:2])
	}
}
