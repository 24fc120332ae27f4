package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	// Quiet hours are evaluated in each user's zone, which must resolve
	// even on hosts without a zoneinfo database.
	_ "time/tzdata"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/notify"
	"github.com/sakif/proteeti/internal/repository"
)

// Broadcaster sends Web Push payloads. *notify.Pusher implements it.
type Broadcaster interface {
	Enabled() bool
	PublicKey() string
	Broadcast(ctx context.Context, subs []model.PushSubscription, payload notify.PushPayload) (notify.BroadcastResult, error)
}

// ReportService stores hazard reports and tells followers of the category.
type ReportService struct {
	reports repository.ReportRepository
	users   repository.UserRepository
	subs    repository.PushRepository
	push    Broadcaster
	logger  *slog.Logger
	now     func() time.Time
}

func NewReportService(
	reports repository.ReportRepository,
	users repository.UserRepository,
	subs repository.PushRepository,
	push Broadcaster,
	logger *slog.Logger,
) *ReportService {
	return &ReportService{
		reports: reports,
		users:   users,
		subs:    subs,
		push:    push,
		logger:  logger,
		now:     time.Now,
	}
}

// ReportInput is a hazard report as submitted.
type ReportInput struct {
	Lat         any
	Lng         any
	Category    string
	Description string
}

// Submit validates and stores the report, then pushes it to subscribers.
// Push failures never fail the submission.
func (s *ReportService) Submit(ctx context.Context, username string, in ReportInput) (*model.Report, error) {
	lat, lng, err := parseCoordinates(in.Lat, in.Lng)
	if err != nil {
		return nil, err
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		return nil, apperror.ValidationFailed("category", "Category is required")
	}

	r := &model.Report{
		Username:    username,
		Lat:         lat,
		Lng:         lng,
		Category:    category,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.reports.CreateReport(ctx, r); err != nil {
		return nil, fmt.Errorf("service/report: saving report: %w", err)
	}
	s.logger.Info("hazard report submitted",
		slog.Int64("report_id", r.ID),
		slog.String("username", username),
		slog.String("category", category),
	)

	s.notifyFollowers(ctx, r)
	return r, nil
}

// notifyFollowers pushes the report to users who enabled push, follow the
// category and are outside their quiet hours. The reporter is skipped.
func (s *ReportService) notifyFollowers(ctx context.Context, r *model.Report) {
	if s.push == nil || !s.push.Enabled() {
		return
	}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		s.logger.Error("listing users for hazard push failed", slog.String("error", err.Error()))
		return
	}
	now := s.now()
	followers := map[string]bool{}
	for _, u := range users {
		if u.Username == r.Username {
			continue
		}
		p := u.NotificationPrefs
		if !p.Channels.Push || !p.Follows(r.Category) {
			continue
		}
		if p.QuietHours.Contains(now.In(userLocation(u.Profile))) {
			continue
		}
		followers[u.Username] = true
	}
	if len(followers) == 0 {
		return
	}

	all, err := s.subs.ListActiveSubscriptions(ctx)
	if err != nil {
		s.logger.Error("listing push subscriptions failed", slog.String("error", err.Error()))
		return
	}
	targets := make([]model.PushSubscription, 0, len(followers))
	for _, sub := range all {
		if followers[sub.Username] {
			targets = append(targets, sub)
		}
	}
	if len(targets) == 0 {
		return
	}

	res, err := s.push.Broadcast(ctx, targets, notify.PushPayload{
		Title:    "Hazard reported: " + r.Category,
		Body:     r.Description,
		URL:      "/map",
		Category: r.Category,
	})
	if err != nil {
		s.logger.Warn("hazard push failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("hazard push sent",
		slog.Int64("report_id", r.ID),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
	)
}

// userLocation resolves the profile timezone, falling back to UTC.
func userLocation(p model.Profile) *time.Location {
	if tz := p.String("timezone"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.UTC
}

// List returns every report, newest first.
func (s *ReportService) List(ctx context.Context) ([]model.Report, error) {
	return s.reports.ListReports(ctx)
}

// Delete removes a report. Admin only; there is no soft delete.
func (s *ReportService) Delete(ctx context.Context, id int64) error {
	if err := s.reports.DeleteReport(ctx, id); err != nil {
		return err
	}
	s.logger.Info("report deleted", slog.Int64("report_id", id))
	return nil
}
