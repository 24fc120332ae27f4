package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
)

// =========================================================================
// CREATE / GET TESTS
// =========================================================================

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)
	u := createTestUser(t, db, "alice")

	assert.NotZero(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := db.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", got.Email)
	assert.True(t, got.Verified)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.NotNil(t, got.Profile)
	assert.Empty(t, got.TrustedContacts)
	assert.True(t, got.NotificationPrefs.Channels.Email)
}

func TestCreateUser_Duplicates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "alice")

	err := db.CreateUser(ctx, &model.User{Username: "alice", Email: "other@x.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	err = db.CreateUser(ctx, &model.User{Username: "alice2", Email: "alice@x.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "email", appErr.Field)
}

func TestGetUser_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetUserByUsername(context.Background(), "ghost")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	_, err = db.GetUserByEmail(context.Background(), "ghost@x.com")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestGetUserByEmail_CaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "alice")

	got, err := db.GetUserByEmail(context.Background(), "ALICE@X.COM")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

// =========================================================================
// MUTATE TESTS
// =========================================================================

func TestMutateUser_PersistsJSONColumns(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "alice")

	_, err := db.MutateUser(ctx, "alice", func(u *model.User) error {
		u.Profile["city"] = "Sylhet"
		u.TrustedContacts = append(u.TrustedContacts, model.TrustedContact{ID: 1, Name: "Bob", Email: "bob@x.com"})
		u.NotificationPrefs.HazardCategories = []string{"flood"}
		return nil
	})
	require.NoError(t, err)

	got, err := db.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Sylhet", got.Profile.String("city"))
	require.Len(t, got.TrustedContacts, 1)
	assert.Equal(t, "bob@x.com", got.TrustedContacts[0].Email)
	assert.Equal(t, []string{"flood"}, got.NotificationPrefs.HazardCategories)
}

func TestMutateUser_ErrorWritesNothing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "alice")

	boom := errors.New("boom")
	_, err := db.MutateUser(ctx, "alice", func(u *model.User) error {
		u.Profile["city"] = "Khulna"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := db.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, got.Profile.String("city"))
}

func TestMutateUser_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.MutateUser(context.Background(), "ghost", func(u *model.User) error { return nil })
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestDeleteUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "alice")

	require.NoError(t, db.DeleteUser(ctx, "alice"))
	assert.True(t, errors.Is(db.DeleteUser(ctx, "alice"), apperror.ErrNotFound))

	users, err := db.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}
