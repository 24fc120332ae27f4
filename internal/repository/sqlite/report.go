package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

var _ repository.ReportRepository = (*DB)(nil)

func (db *DB) CreateReport(ctx context.Context, r *model.Report) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO reports (username, lat, lng, category, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Username, r.Lat, r.Lng, r.Category, r.Description, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading report id: %w", err)
	}
	r.ID = id
	return nil
}

// ListReports returns every report, newest first.
func (db *DB) ListReports(ctx context.Context) ([]model.Report, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, username, lat, lng, category, description, created_at
		 FROM reports ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing reports: %w", err)
	}
	defer rows.Close()

	reports := []model.Report{}
	for rows.Next() {
		var r model.Report
		if err := rows.Scan(&r.ID, &r.Username, &r.Lat, &r.Lng, &r.Category, &r.Description, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning report: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (db *DB) DeleteReport(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting report %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("report", strconv.FormatInt(id, 10))
	}
	return nil
}
