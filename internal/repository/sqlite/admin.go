package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

var _ repository.AdminRepository = (*DB)(nil)

func (db *DB) CreateAdmin(ctx context.Context, a *model.Admin) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO admins (username, password_hash, created_at) VALUES (?, ?, ?)`,
		a.Username, a.PasswordHash, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("username", "Admin username already exists")
		}
		return fmt.Errorf("sqlite: inserting admin %s: %w", a.Username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading admin id: %w", err)
	}
	a.ID = id
	return nil
}

func (db *DB) GetAdmin(ctx context.Context, id int64) (*model.Admin, error) {
	a, err := scanAdmin(db.conn.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM admins WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("admin", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting admin %d: %w", id, err)
	}
	return a, nil
}

func (db *DB) GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error) {
	a, err := scanAdmin(db.conn.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM admins WHERE username = ?`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("admin", username)
		}
		return nil, fmt.Errorf("sqlite: getting admin %s: %w", username, err)
	}
	return a, nil
}

func (db *DB) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, username, password_hash, created_at FROM admins ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing admins: %w", err)
	}
	defer rows.Close()

	admins := []model.Admin{}
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning admin: %w", err)
		}
		admins = append(admins, *a)
	}
	return admins, rows.Err()
}

func (db *DB) CountAdmins(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting admins: %w", err)
	}
	return n, nil
}

func (db *DB) UpdateAdminPassword(ctx context.Context, id int64, hash string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE admins SET password_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("sqlite: updating admin %d password: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("admin", strconv.FormatInt(id, 10))
	}
	return nil
}

// DeleteAdmin deletes the admin unless it is the last one.
// The count and the delete run in one transaction so two concurrent deletes
// cannot both pass the check.
func (db *DB) DeleteAdmin(ctx context.Context, id int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&n); err != nil {
		return fmt.Errorf("sqlite: counting admins: %w", err)
	}
	if n <= 1 {
		return repository.ErrLastAdmin
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM admins WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting admin %d: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperror.NotFound("admin", strconv.FormatInt(id, 10))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing admin delete: %w", err)
	}
	return nil
}

func scanAdmin(row rowScanner) (*model.Admin, error) {
	var a model.Admin
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}
