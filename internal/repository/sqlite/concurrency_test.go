package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

// newFileDB opens a file-backed database so the connection pool really has
// several connections competing for the write lock.
func newFileDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "proteeti.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDSN(t *testing.T) {
	got := dsn("data/proteeti.db")
	assert.True(t, strings.HasPrefix(got, "data/proteeti.db?"))
	assert.Contains(t, got, "_pragma=busy_timeout(5000)")
	assert.Contains(t, got, "_pragma=foreign_keys(1)")
	assert.Contains(t, got, "_pragma=journal_mode(WAL)")
	assert.Contains(t, got, "_txlock=immediate")

	assert.Contains(t, dsn("file:x.db?mode=rwc"), "mode=rwc&_pragma=")
}

func TestFileDB_ConcurrentAlertInserts(t *testing.T) {
	db := newFileDB(t)
	u := createTestUser(t, db, "alice")

	const n = 30
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.CreateAlert(context.Background(), &model.SOSAlert{
				UserID: u.ID, Username: u.Username, Lat: 23.8, Lng: 90.4,
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	alerts, err := db.ListAlertsByUsername(context.Background(), u.Username)
	require.NoError(t, err)
	assert.Len(t, alerts, n)
}

func TestFileDB_ConcurrentMutationsKeepEveryUpdate(t *testing.T) {
	db := newFileDB(t)
	createTestUser(t, db, "alice")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := db.MutateUser(context.Background(), "alice", func(u *model.User) error {
				if u.Profile == nil {
					u.Profile = model.Profile{}
				}
				u.Profile[fmt.Sprintf("key_%d", i)] = i
				return nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	got, err := db.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, got.Profile, n)
}

func TestFileDB_ConcurrentAdminDeletesKeepOne(t *testing.T) {
	db := newFileDB(t)
	ctx := context.Background()

	a := &model.Admin{Username: "root", PasswordHash: "hash"}
	b := &model.Admin{Username: "bob", PasswordHash: "hash"}
	require.NoError(t, db.CreateAdmin(ctx, a))
	require.NoError(t, db.CreateAdmin(ctx, b))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			errs <- db.DeleteAdmin(ctx, id)
		}(id)
	}
	wg.Wait()
	close(errs)

	var deleted, refused int
	for err := range errs {
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, repository.ErrLastAdmin):
			refused++
		default:
			t.Fatalf("DeleteAdmin() unexpected error = %v", err)
		}
	}
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, refused)

	admins, err := db.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Len(t, admins, 1)
}
