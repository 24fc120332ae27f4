package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

var _ repository.NotificationRepository = (*DB)(nil)

// CreateAttempts inserts the attempts as pending, in one transaction, and
// returns them with ids set.
func (db *DB) CreateAttempts(ctx context.Context, attempts []model.NotificationAttempt) ([]model.NotificationAttempt, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	out := make([]model.NotificationAttempt, len(attempts))
	for i, a := range attempts {
		a.Status = model.AttemptPending
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO sos_notifications (alert_id, username, recipient, kind, status, error, created_at)
			 VALUES (?, ?, ?, ?, ?, '', ?)`,
			a.AlertID, a.Username, a.Recipient, string(a.Kind), string(a.Status), a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: inserting attempt for %s: %w", a.Recipient, err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("sqlite: reading attempt id: %w", err)
		}
		out[i] = a
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing attempts: %w", err)
	}
	return out, nil
}

// FinishAttempt records the outcome of one send.
func (db *DB) FinishAttempt(ctx context.Context, id int64, status model.AttemptStatus, errMsg string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sos_notifications SET status = ?, error = ?, attempted_at = ? WHERE id = ?`,
		string(status), errMsg, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: finishing attempt %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("notification attempt", strconv.FormatInt(id, 10))
	}
	return nil
}

// ListAttempts returns the attempts for one alert in send order.
func (db *DB) ListAttempts(ctx context.Context, alertID int64) ([]model.NotificationAttempt, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, alert_id, username, recipient, kind, status, error, created_at, attempted_at
		 FROM sos_notifications WHERE alert_id = ? ORDER BY id`, alertID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing attempts for alert %d: %w", alertID, err)
	}
	defer rows.Close()

	attempts := []model.NotificationAttempt{}
	for rows.Next() {
		var (
			a            model.NotificationAttempt
			kind, status string
			attemptedAt  sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.AlertID, &a.Username, &a.Recipient, &kind, &status,
			&a.Error, &a.CreatedAt, &attemptedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning attempt: %w", err)
		}
		a.Kind = model.MessageKind(kind)
		a.Status = model.AttemptStatus(status)
		a.CreatedAt = a.CreatedAt.UTC()
		if attemptedAt.Valid {
			t := attemptedAt.Time.UTC()
			a.AttemptedAt = &t
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
