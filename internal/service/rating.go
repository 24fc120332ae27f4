package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

type RatingService struct {
	ratings repository.RatingRepository
	logger  *slog.Logger
	now     func() time.Time
}

func NewRatingService(ratings repository.RatingRepository, logger *slog.Logger) *RatingService {
	return &RatingService{ratings: ratings, logger: logger, now: time.Now}
}

// Rate stores the user's rating, replacing any earlier one.
func (s *RatingService) Rate(ctx context.Context, username string, rating int) (*model.StarRating, error) {
	if rating < 1 || rating > 5 {
		return nil, apperror.ValidationFailed("rating", "Rating must be between 1 and 5")
	}
	if err := s.ratings.UpsertRating(ctx, username, rating, s.now().UTC()); err != nil {
		return nil, err
	}
	s.logger.Info("rating saved", slog.String("username", username), slog.Int("rating", rating))
	return s.ratings.GetRating(ctx, username)
}

func (s *RatingService) Get(ctx context.Context, username string) (*model.StarRating, error) {
	return s.ratings.GetRating(ctx, username)
}

func (s *RatingService) List(ctx context.Context) ([]model.StarRating, error) {
	return s.ratings.ListRatings(ctx)
}
