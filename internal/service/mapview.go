package service

import (
	"context"
	"errors"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

// DefaultCenter is central Dhaka.
var DefaultCenter = model.Point{Lat: 23.8103, Lng: 90.4125}

// cityCenters maps the city names offered at onboarding to a map center.
var cityCenters = map[string]model.Point{
	"Dhaka North": {Lat: 23.8341, Lng: 90.3841},
	"Dhaka South": {Lat: 23.7104, Lng: 90.4074},
	"Chattogram":  {Lat: 22.3569, Lng: 91.7832},
	"Khulna":      {Lat: 22.8200, Lng: 89.5500},
	"Rajshahi":    {Lat: 24.3745, Lng: 88.6042},
	"Sylhet":      {Lat: 24.8949, Lng: 91.8687},
	"Barisal":     {Lat: 22.7010, Lng: 90.3535},
	"Rangpur":     {Lat: 25.7558, Lng: 89.2440},
	"Comilla":     {Lat: 23.4607, Lng: 91.1800},
	"Narayanganj": {Lat: 23.6200, Lng: 90.5000},
	"Gazipur":     {Lat: 23.9999, Lng: 90.4203},
	"Mymensingh":  {Lat: 24.7539, Lng: 90.4031},
}

// MapService picks the initial map center for a visitor.
type MapService struct {
	users   repository.UserRepository
	reports repository.ReportRepository
}

func NewMapService(users repository.UserRepository, reports repository.ReportRepository) *MapService {
	return &MapService{users: users, reports: reports}
}

// MapView is what the hazard map needs to render.
type MapView struct {
	Center  model.Point    `json:"center"`
	Reports []model.Report `json:"reports"`
}

// Map returns all reports and a center: the caller's city, else the
// profile's own center_lat/center_lng, else Dhaka. username may be empty.
func (s *MapService) Map(ctx context.Context, username string) (*MapView, error) {
	center, err := s.center(ctx, username, true)
	if err != nil {
		return nil, err
	}
	reports, err := s.reports.ListReports(ctx)
	if err != nil {
		return nil, err
	}
	return &MapView{Center: center, Reports: reports}, nil
}

// ResourcesCenter uses the city rule only.
func (s *MapService) ResourcesCenter(ctx context.Context, username string) (model.Point, error) {
	return s.center(ctx, username, false)
}

func (s *MapService) center(ctx context.Context, username string, allowCustom bool) (model.Point, error) {
	if username == "" {
		return DefaultCenter, nil
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		// A stale session for a deleted account still gets a map.
		if errors.Is(err, apperror.ErrNotFound) {
			return DefaultCenter, nil
		}
		return model.Point{}, err
	}

	if c, ok := cityCenters[user.Profile.String("city")]; ok {
		return c, nil
	}
	if allowCustom {
		lat, latOK := user.Profile.Float("center_lat")
		lng, lngOK := user.Profile.Float("center_lng")
		if latOK && lngOK && lat != 0 && lng != 0 {
			return model.Point{Lat: lat, Lng: lng}, nil
		}
	}
	return DefaultCenter, nil
}
