package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

// compile-time check: SQLite is the fallback pending store when Redis is off.
var _ repository.PendingStore = (*DB)(nil)

func (db *DB) SavePending(ctx context.Context, p *model.PendingRegistration) error {
	// Expired rows are swept opportunistically on every save.
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM pending_registrations WHERE expires_at <= ?`, time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlite: sweeping pending registrations: %w", err)
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO pending_registrations
		     (token, username, email, password_hash, code, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Token, p.Username, p.Email, p.PasswordHash, p.Code, p.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: saving pending registration: %w", err)
	}
	return nil
}

func (db *DB) GetPending(ctx context.Context, token string) (*model.PendingRegistration, error) {
	var p model.PendingRegistration
	err := db.conn.QueryRowContext(ctx,
		`SELECT token, username, email, password_hash, code, expires_at
		 FROM pending_registrations WHERE token = ?`, token,
	).Scan(&p.Token, &p.Username, &p.Email, &p.PasswordHash, &p.Code, &p.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("pending registration", token)
		}
		return nil, fmt.Errorf("sqlite: getting pending registration: %w", err)
	}
	if p.Expired(time.Now()) {
		return nil, apperror.NotFound("pending registration", token)
	}
	return &p, nil
}

func (db *DB) DeletePending(ctx context.Context, token string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM pending_registrations WHERE token = ?`, token); err != nil {
		return fmt.Errorf("sqlite: deleting pending registration: %w", err)
	}
	return nil
}
