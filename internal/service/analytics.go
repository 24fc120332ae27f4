package service

import (
	"context"
	"time"

	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

// recentWindow is the "last N days" used by the overview and trends.
const recentWindow = 7

// Heatmap weights. An SOS counts for more than a hazard report.
const (
	reportIntensity = 1
	sosIntensity    = 3
)

// AnalyticsService computes the admin dashboard figures. The data set is
// small enough that everything is aggregated in memory from full listings.
type AnalyticsService struct {
	users   repository.UserRepository
	reports repository.ReportRepository
	alerts  repository.AlertRepository
	now     func() time.Time
}

func NewAnalyticsService(users repository.UserRepository, reports repository.ReportRepository, alerts repository.AlertRepository) *AnalyticsService {
	return &AnalyticsService{users: users, reports: reports, alerts: alerts, now: time.Now}
}

// Overview returns headline totals plus activity over the last seven days.
func (s *AnalyticsService) Overview(ctx context.Context) (*model.Overview, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	reports, err := s.reports.ListReports(ctx)
	if err != nil {
		return nil, err
	}
	alerts, err := s.alerts.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}

	since := s.now().UTC().AddDate(0, 0, -recentWindow)
	out := &model.Overview{
		TotalUsers:      len(users),
		TotalReports:    len(reports),
		ReportsCategory: map[string]int{},
	}
	for _, u := range users {
		if u.Verified {
			out.VerifiedUsers++
		}
		if u.CreatedAt.After(since) {
			out.RecentUsers++
		}
	}
	for _, r := range reports {
		out.ReportsCategory[r.Category]++
		if r.CreatedAt.After(since) {
			out.RecentReports++
		}
	}
	for _, a := range alerts {
		if a.Status == model.AlertActive {
			out.ActiveSOS++
		}
	}
	return out, nil
}

// Trends returns per-day report and SOS counts for the last seven days
// including today, oldest first. Days are UTC calendar days.
func (s *AnalyticsService) Trends(ctx context.Context) (*model.Trends, error) {
	reports, err := s.reports.ListReports(ctx)
	if err != nil {
		return nil, err
	}
	alerts, err := s.alerts.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	out := &model.Trends{
		Dates:   make([]string, recentWindow),
		Reports: make([]int, recentWindow),
		SOS:     make([]int, recentWindow),
	}
	index := make(map[string]int, recentWindow)
	for i := 0; i < recentWindow; i++ {
		day := today.AddDate(0, 0, i-(recentWindow-1)).Format(time.DateOnly)
		out.Dates[i] = day
		index[day] = i
	}

	for _, r := range reports {
		if i, ok := index[r.CreatedAt.UTC().Format(time.DateOnly)]; ok {
			out.Reports[i]++
		}
	}
	for _, a := range alerts {
		if i, ok := index[a.CreatedAt.UTC().Format(time.DateOnly)]; ok {
			out.SOS[i]++
		}
	}
	return out, nil
}

// Heatmap returns one weighted point per report and per SOS alert.
func (s *AnalyticsService) Heatmap(ctx context.Context) ([]model.HeatPoint, error) {
	reports, err := s.reports.ListReports(ctx)
	if err != nil {
		return nil, err
	}
	alerts, err := s.alerts.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}

	points := make([]model.HeatPoint, 0, len(reports)+len(alerts))
	for _, r := range reports {
		points = append(points, model.HeatPoint{Lat: r.Lat, Lng: r.Lng, Intensity: reportIntensity})
	}
	for _, a := range alerts {
		points = append(points, model.HeatPoint{Lat: a.Lat, Lng: a.Lng, Intensity: sosIntensity})
	}
	return points, nil
}
