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

var _ repository.AlertRepository = (*DB)(nil)

const alertColumns = `id, user_id, username, lat, lng, accuracy, status, audio_key, created_at, resolved_at`

// CreateAlert inserts an alert. Status defaults to active.
func (db *DB) CreateAlert(ctx context.Context, a *model.SOSAlert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.AlertActive
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO sos_alerts (user_id, username, lat, lng, accuracy, status, audio_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.Username, a.Lat, a.Lng, a.Accuracy, string(a.Status), a.AudioKey, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading alert id: %w", err)
	}
	a.ID = id
	return nil
}

func (db *DB) GetAlert(ctx context.Context, id int64) (*model.SOSAlert, error) {
	a, err := scanAlert(db.conn.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM sos_alerts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("alert", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting alert %d: %w", id, err)
	}
	return a, nil
}

// ListAlerts returns every alert, newest first.
func (db *DB) ListAlerts(ctx context.Context) ([]model.SOSAlert, error) {
	return db.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM sos_alerts ORDER BY created_at DESC, id DESC`)
}

func (db *DB) ListAlertsByUsername(ctx context.Context, username string) ([]model.SOSAlert, error) {
	return db.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM sos_alerts WHERE username = ? ORDER BY created_at DESC, id DESC`,
		username)
}

// LatestActiveAlert returns the user's most recent unresolved alert, or
// apperror.ErrNotFound if there is none.
func (db *DB) LatestActiveAlert(ctx context.Context, username string) (*model.SOSAlert, error) {
	a, err := scanAlert(db.conn.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM sos_alerts
		 WHERE username = ? AND status = 'active'
		 ORDER BY created_at DESC, id DESC LIMIT 1`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("active alert for", username)
		}
		return nil, fmt.Errorf("sqlite: latest alert for %s: %w", username, err)
	}
	return a, nil
}

// ResolveAlert marks the alert resolved. Resolving twice is allowed; the
// first resolution time is kept.
func (db *DB) ResolveAlert(ctx context.Context, id int64, at time.Time) (*model.SOSAlert, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sos_alerts
		 SET status = 'resolved', resolved_at = COALESCE(resolved_at, ?)
		 WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: resolving alert %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperror.NotFound("alert", strconv.FormatInt(id, 10))
	}
	return db.GetAlert(ctx, id)
}

func (db *DB) SetAlertAudio(ctx context.Context, id int64, key string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE sos_alerts SET audio_key = ? WHERE id = ?`, key, id)
	if err != nil {
		return fmt.Errorf("sqlite: setting audio for alert %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("alert", strconv.FormatInt(id, 10))
	}
	return nil
}

func (db *DB) queryAlerts(ctx context.Context, query string, args ...any) ([]model.SOSAlert, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing alerts: %w", err)
	}
	defer rows.Close()

	alerts := []model.SOSAlert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func scanAlert(row rowScanner) (*model.SOSAlert, error) {
	var (
		a        model.SOSAlert
		status   string
		resolved sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Username, &a.Lat, &a.Lng, &a.Accuracy,
		&status, &a.AudioKey, &a.CreatedAt, &resolved); err != nil {
		return nil, err
	}
	a.Status = model.AlertStatus(status)
	a.CreatedAt = a.CreatedAt.UTC()
	if resolved.Valid {
		t := resolved.Time.UTC()
		a.ResolvedAt = &t
	}
	return &a, nil
}
