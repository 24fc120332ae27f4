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

var _ repository.RatingRepository = (*DB)(nil)

// UpsertRating stores one rating per username; a second rating replaces the
// value and timestamp of the first.
func (db *DB) UpsertRating(ctx context.Context, username string, rating int, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO star_ratings (username, rating, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET rating = excluded.rating, created_at = excluded.created_at`,
		username, rating, at.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: upserting rating for %s: %w", username, err)
	}
	return nil
}

func (db *DB) GetRating(ctx context.Context, username string) (*model.StarRating, error) {
	var r model.StarRating
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, username, rating, created_at FROM star_ratings WHERE username = ?`, username,
	).Scan(&r.ID, &r.Username, &r.Rating, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("rating", username)
		}
		return nil, fmt.Errorf("sqlite: getting rating for %s: %w", username, err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (db *DB) ListRatings(ctx context.Context) ([]model.StarRating, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, username, rating, created_at FROM star_ratings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing ratings: %w", err)
	}
	defer rows.Close()

	ratings := []model.StarRating{}
	for rows.Next() {
		var r model.StarRating
		if err := rows.Scan(&r.ID, &r.Username, &r.Rating, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning rating: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}
