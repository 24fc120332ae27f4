package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/notify"
	"github.com/sakif/proteeti/internal/repository/sqlite"
)

// =========================================================================
// SHARED TEST HELPERS
// =========================================================================
//
// Repositories are real: every test gets its own in-memory SQLite database
// with the full schema. Everything that would leave the process (SMTP, the
// deliverability API, push, MQTT, S3) is replaced by a small fake that
// records what it was asked to do.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New(:memory:) error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPasswords() *auth.PasswordService {
	// Cost 4 is bcrypt's minimum and keeps the tests fast.
	return auth.NewPasswordServiceForTest(4)
}

func testTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", 0)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// seedUser stores a verified user with the given contacts.
func seedUser(t *testing.T, db *sqlite.DB, username string, contacts ...model.TrustedContact) *model.User {
	t.Helper()
	u := &model.User{
		Username:          username,
		Email:             username + "@example.com",
		Verified:          true,
		Profile:           model.Profile{},
		TrustedContacts:   contacts,
		NotificationPrefs: model.DefaultNotificationPrefs(),
	}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s) error = %v", username, err)
	}
	return u
}

// fakeMailer records every message. Sends to addresses in failFor fail.
type fakeMailer struct {
	mu      sync.Mutex
	sent    []notify.Message
	failFor map[string]bool
}

func (m *fakeMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[msg.To] {
		return errors.New("smtp: connection refused")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) messages() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Message(nil), m.sent...)
}

// fakeChecker returns err for every address.
type fakeChecker struct {
	err   error
	calls int
}

func (c *fakeChecker) Check(context.Context, string) error {
	c.calls++
	return c.err
}

// fakeEvents records published alerts.
type fakeEvents struct {
	published []model.SOSAlert
	err       error
}

func (e *fakeEvents) PublishAlert(_ context.Context, a model.SOSAlert) error {
	e.published = append(e.published, a)
	return e.err
}

func (e *fakeEvents) Close() {}

// fakeAudio hands out a fixed key unless err is set.
type fakeAudio struct {
	key    string
	err    error
	stored [][]byte
}

func (a *fakeAudio) PutAudio(_ context.Context, _ string, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.stored = append(a.stored, data)
	return a.key, nil
}

// fakeBroadcaster records broadcast targets.
type fakeBroadcaster struct {
	enabled bool
	calls   [][]model.PushSubscription
	payload []notify.PushPayload
}

func (b *fakeBroadcaster) Enabled() bool     { return b.enabled }
func (b *fakeBroadcaster) PublicKey() string { return "test-public-key" }

func (b *fakeBroadcaster) Broadcast(_ context.Context, subs []model.PushSubscription, p notify.PushPayload) (notify.BroadcastResult, error) {
	if !b.enabled {
		return notify.BroadcastResult{}, notify.ErrPushDisabled
	}
	b.calls = append(b.calls, subs)
	b.payload = append(b.payload, p)
	return notify.BroadcastResult{Sent: len(subs)}, nil
}
