package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/proteeti/internal/model"
)

// These tests drive MutateUser against go-sqlmock so storage failures that a
// real SQLite file almost never produces can be injected at exact points.

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return newWithConn(conn), mock
}

func userRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "verified", "created_at",
		"profile", "trusted_contacts", "notification_prefs",
	}).AddRow(
		int64(1), "alice", "alice@x.com", "hash", true, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		`{"phone":"017"}`, `[]`, `{}`,
	)
}

func TestMutateUser_UpdateFailureRollsBack(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE username = \?`).
		WithArgs("alice").
		WillReturnRows(userRow())
	mock.ExpectExec(`UPDATE users`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := db.MutateUser(context.Background(), "alice", func(u *model.User) error {
		u.Profile["city"] = "Dhaka North"
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMutateUser_CallbackErrorRollsBackWithoutUpdate(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE username = \?`).
		WithArgs("alice").
		WillReturnRows(userRow())
	mock.ExpectRollback()

	invalid := errors.New("home_area requires lat and lng")
	_, err := db.MutateUser(context.Background(), "alice", func(u *model.User) error {
		return invalid
	})
	assert.ErrorIs(t, err, invalid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMutateUser_CommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE username = \?`).
		WithArgs("alice").
		WillReturnRows(userRow())
	mock.ExpectExec(`UPDATE users`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u, err := db.MutateUser(context.Background(), "alice", func(u *model.User) error {
		u.Profile["city"] = "Gazipur"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "017", u.Profile.String("phone"))
	assert.Equal(t, "Gazipur", u.Profile.String("city"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
