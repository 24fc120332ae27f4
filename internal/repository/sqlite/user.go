package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, password_hash, verified, created_at,
	profile, trusted_contacts, notification_prefs`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// CreateUser inserts a new user and sets user.ID.
// A taken username or email is reported as apperror.ErrConflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Profile == nil {
		user.Profile = model.Profile{}
	}
	if user.TrustedContacts == nil {
		user.TrustedContacts = []model.TrustedContact{}
	}

	profile, contacts, prefs, err := encodeUserJSON(user)
	if err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, verified, created_at,
		                    profile, trusted_contacts, notification_prefs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Verified,
		user.CreatedAt,
		profile,
		contacts,
		prefs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "users.email") {
				return apperror.Conflict("email", "Email already registered")
			}
			return apperror.Conflict("username", "Username already taken")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Username, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading user id: %w", err)
	}
	user.ID = id
	return nil
}

// GetUserByUsername returns apperror.ErrNotFound if no such user exists.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", username, err)
	}
	return u, nil
}

// GetUserByEmail matches the address case-insensitively.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower(?)`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// ListUsers returns all users, oldest first.
func (db *DB) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// DeleteUser removes the account. Alerts and reports keep the username.
func (db *DB) DeleteUser(ctx context.Context, username string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("user", username)
	}
	return nil
}

// MutateUser runs fn against the stored user inside a transaction.
//
// TRANSACTION FLOW:
//  1. BEGIN
//  2. SELECT the user row
//  3. fn edits the in-memory copy (returning an error aborts)
//  4. UPDATE the JSON columns and flags
//  5. COMMIT, or ROLLBACK on any failure
//
// BEGIN is IMMEDIATE (see dsn), so two concurrent mutations of the same user
// serialize on SQLite's write lock and the later one sees the earlier one's
// result instead of overwriting it.
func (db *DB) MutateUser(ctx context.Context, username string, fn repository.UserMutation) (*model.User, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	u, err := scanUser(tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: loading user %s: %w", username, err)
	}

	if err := fn(u); err != nil {
		return nil, err
	}

	profile, contacts, prefs, err := encodeUserJSON(u)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users
		 SET email = ?, verified = ?, profile = ?, trusted_contacts = ?, notification_prefs = ?
		 WHERE id = ?`,
		u.Email,
		u.Verified,
		profile,
		contacts,
		prefs,
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("email", "Email already registered")
		}
		return nil, fmt.Errorf("sqlite: updating user %s: %w", username, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing user %s: %w", username, err)
	}
	committed = true
	return u, nil
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                        model.User
		profile, contacts, prefs string
	)
	if err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Verified,
		&u.CreatedAt,
		&profile,
		&contacts,
		&prefs,
	); err != nil {
		return nil, err
	}

	u.Profile = model.Profile{}
	if profile != "" {
		if err := json.Unmarshal([]byte(profile), &u.Profile); err != nil {
			return nil, fmt.Errorf("decoding profile: %w", err)
		}
		if u.Profile == nil {
			u.Profile = model.Profile{}
		}
	}

	u.TrustedContacts = []model.TrustedContact{}
	if contacts != "" {
		if err := json.Unmarshal([]byte(contacts), &u.TrustedContacts); err != nil {
			return nil, fmt.Errorf("decoding trusted contacts: %w", err)
		}
		if u.TrustedContacts == nil {
			u.TrustedContacts = []model.TrustedContact{}
		}
	}

	// Decoding on top of the defaults fills any nested field the stored
	// document is missing.
	u.NotificationPrefs = model.DefaultNotificationPrefs()
	if prefs != "" {
		if err := json.Unmarshal([]byte(prefs), &u.NotificationPrefs); err != nil {
			return nil, fmt.Errorf("decoding notification prefs: %w", err)
		}
		if u.NotificationPrefs.HazardCategories == nil {
			u.NotificationPrefs.HazardCategories = []string{}
		}
	}

	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func encodeUserJSON(u *model.User) (profile, contacts, prefs string, err error) {
	p, err := json.Marshal(u.Profile)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding profile: %w", err)
	}
	c, err := json.Marshal(u.TrustedContacts)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding trusted contacts: %w", err)
	}
	n, err := json.Marshal(u.NotificationPrefs)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding notification prefs: %w", err)
	}
	return string(p), string(c), string(n), nil
}
