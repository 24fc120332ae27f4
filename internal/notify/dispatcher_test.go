package notify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/proteeti/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================

// fakeMailer records sent messages and fails for addresses in failFor.
// Addresses in block wait until the context is done.
type fakeMailer struct {
	mu      sync.Mutex
	sent    []Message
	failFor map[string]bool
	block   map[string]bool
}

func (m *fakeMailer) Send(ctx context.Context, msg Message) error {
	if m.block[msg.To] {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.failFor[msg.To] {
		return errors.New("550 mailbox unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.To
	}
	return out
}

// fakeAttempts is an in-memory NotificationRepository.
type fakeAttempts struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.NotificationAttempt
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{rows: map[int64]*model.NotificationAttempt{}}
}

func (f *fakeAttempts) CreateAttempts(_ context.Context, attempts []model.NotificationAttempt) ([]model.NotificationAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.NotificationAttempt, len(attempts))
	for i, a := range attempts {
		f.nextID++
		a.ID = f.nextID
		a.Status = model.AttemptPending
		a.CreatedAt = time.Now()
		row := a
		f.rows[a.ID] = &row
		out[i] = a
	}
	return out, nil
}

func (f *fakeAttempts) FinishAttempt(_ context.Context, id int64, status model.AttemptStatus, errMsg string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return errors.New("no such attempt")
	}
	row.Status = status
	row.Error = errMsg
	row.AttemptedAt = &at
	return nil
}

func (f *fakeAttempts) ListAttempts(_ context.Context, alertID int64) ([]model.NotificationAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.NotificationAttempt
	for id := int64(1); id <= f.nextID; id++ {
		if r := f.rows[id]; r != nil && r.AlertID == alertID {
			out = append(out, *r)
		}
	}
	return out, nil
}

// brokenAttempts cannot record anything, like a locked database.
type brokenAttempts struct {
	fakeAttempts
	finishCalls int
}

func (b *brokenAttempts) CreateAttempts(context.Context, []model.NotificationAttempt) ([]model.NotificationAttempt, error) {
	return nil, errors.New("database is locked")
}

func (b *brokenAttempts) FinishAttempt(context.Context, int64, model.AttemptStatus, string, time.Time) error {
	b.finishCalls++
	return errors.New("database is locked")
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func locationBatch(to ...string) []Message {
	msgs := make([]Message, len(to))
	for i, addr := range to {
		msgs[i] = LocationMessage(addr, "alice", 23.8, 90.4)
	}
	return msgs
}

// =========================================================================
// SYNC MODE
// =========================================================================

func TestDispatch_Sync_AllSent(t *testing.T) {
	mailer := &fakeMailer{}
	repo := newFakeAttempts()
	d := NewDispatcher(mailer, repo, DispatcherConfig{AttemptTimeout: time.Second}, newTestLogger())

	results, err := d.Dispatch(context.Background(), 1, "alice", model.KindLocation, locationBatch("bob@x.com", "carol@x.com"))
	require.NoError(t, err)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, model.AttemptSent, r.Status)
	}
	assert.Equal(t, []string{"bob@x.com", "carol@x.com"}, mailer.sentTo())

	rows, _ := repo.ListAttempts(context.Background(), 1)
	require.Len(t, rows, 2)
	assert.Equal(t, model.AttemptSent, rows[0].Status)
	assert.NotNil(t, rows[0].AttemptedAt)
}

func TestDispatch_Sync_OneFailureDoesNotStopOthers(t *testing.T) {
	mailer := &fakeMailer{failFor: map[string]bool{"bob@x.com": true}}
	repo := newFakeAttempts()
	d := NewDispatcher(mailer, repo, DispatcherConfig{AttemptTimeout: time.Second}, newTestLogger())

	results, err := d.Dispatch(context.Background(), 2, "alice", model.KindLocation, locationBatch("bob@x.com", "carol@x.com"))
	require.NoError(t, err)

	assert.Equal(t, model.AttemptFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "550")
	assert.Equal(t, model.AttemptSent, results[1].Status)

	rows, _ := repo.ListAttempts(context.Background(), 2)
	assert.Equal(t, model.AttemptFailed, rows[0].Status)
	assert.Equal(t, model.AttemptSent, rows[1].Status)
}

func TestDispatch_UnrecordedAttemptsStillDeliver(t *testing.T) {
	for _, async := range []bool{false, true} {
		mailer := &fakeMailer{failFor: map[string]bool{"carol@x.com": true}}
		repo := &brokenAttempts{}
		d := NewDispatcher(mailer, repo, DispatcherConfig{Async: async, AttemptTimeout: time.Second}, newTestLogger())
		d.Start()

		results, err := d.Dispatch(context.Background(), 3, "alice", model.KindLocation, locationBatch("bob@x.com", "carol@x.com"))
		d.Stop()
		require.NoError(t, err, "async=%v", async)

		require.Len(t, results, 2)
		assert.Equal(t, DeliveryResult{Recipient: "bob@x.com", Status: model.AttemptSent}, results[0])
		assert.Equal(t, model.AttemptFailed, results[1].Status)
		assert.Zero(t, results[1].AttemptID)
		assert.Equal(t, []string{"bob@x.com"}, mailer.sentTo())
		assert.Zero(t, repo.finishCalls, "no rows to finish")
	}
}

func TestDispatch_Sync_SlowRecipientTimesOut(t *testing.T) {
	mailer := &fakeMailer{block: map[string]bool{"slow@x.com": true}}
	repo := newFakeAttempts()
	d := NewDispatcher(mailer, repo, DispatcherConfig{AttemptTimeout: 50 * time.Millisecond}, newTestLogger())

	start := time.Now()
	results, err := d.Dispatch(context.Background(), 3, "alice", model.KindLocation, locationBatch("slow@x.com", "bob@x.com"))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, model.AttemptFailed, results[0].Status)
	assert.Equal(t, model.AttemptSent, results[1].Status)
}

func TestDispatch_NoRecipients(t *testing.T) {
	repo := newFakeAttempts()
	d := NewDispatcher(&fakeMailer{}, repo, DispatcherConfig{}, newTestLogger())

	results, err := d.Dispatch(context.Background(), 4, "alice", model.KindLocation, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, repo.nextID, "no attempt rows should be written")
}

// =========================================================================
// ASYNC MODE
// =========================================================================

func TestDispatch_Async_QueuedThenDrained(t *testing.T) {
	mailer := &fakeMailer{}
	repo := newFakeAttempts()
	d := NewDispatcher(mailer, repo, DispatcherConfig{
		Async:          true,
		Workers:        2,
		QueueSize:      16,
		AttemptTimeout: time.Second,
	}, newTestLogger())
	d.Start()

	results, err := d.Dispatch(context.Background(), 5, "alice", model.KindLocation, locationBatch("bob@x.com", "carol@x.com", "dave@x.com"))
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, model.AttemptPending, r.Status)
		assert.NotZero(t, r.AttemptID)
	}

	d.Stop()

	rows, _ := repo.ListAttempts(context.Background(), 5)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, model.AttemptSent, r.Status, "recipient %s", r.Recipient)
	}
	assert.ElementsMatch(t, []string{"bob@x.com", "carol@x.com", "dave@x.com"}, mailer.sentTo())
}

func TestDispatch_Async_NotStartedSendsInline(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, newFakeAttempts(), DispatcherConfig{Async: true, Workers: 1, QueueSize: 4}, newTestLogger())

	results, err := d.Dispatch(context.Background(), 6, "alice", model.KindLocation, locationBatch("bob@x.com"))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptSent, results[0].Status)
}

func TestDispatch_Async_AfterStopSendsInline(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, newFakeAttempts(), DispatcherConfig{Async: true, Workers: 1, QueueSize: 4}, newTestLogger())
	d.Start()
	d.Stop()
	d.Stop() // idempotent

	results, err := d.Dispatch(context.Background(), 7, "alice", model.KindLocation, locationBatch("bob@x.com"))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptSent, results[0].Status)
}

func TestStart_SyncModeIsNoop(t *testing.T) {
	d := NewDispatcher(&fakeMailer{}, newFakeAttempts(), DispatcherConfig{Async: false, Workers: 3}, newTestLogger())
	d.Start()
	assert.False(t, d.Async())
	d.Stop()
}
