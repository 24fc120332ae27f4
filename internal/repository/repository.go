// Package repository declares the storage contracts the service layer depends on.
//
// Services only see these interfaces. The SQLite package implements all of
// them; the Redis package implements PendingStore for multi-instance
// deployments.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/proteeti/internal/model"
)

// ErrLastAdmin is returned when a delete would leave no admin account.
var ErrLastAdmin = errors.New("repository: cannot delete the last admin")

// UserMutation edits a user inside a storage transaction. Returning an error
// aborts the transaction and nothing is written.
type UserMutation func(u *model.User) error

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, username string) error
	// MutateUser reads the user, applies fn and writes profile, contacts and
	// notification preferences back atomically.
	MutateUser(ctx context.Context, username string, fn UserMutation) (*model.User, error)
}

type ReportRepository interface {
	CreateReport(ctx context.Context, report *model.Report) error
	ListReports(ctx context.Context) ([]model.Report, error)
	DeleteReport(ctx context.Context, id int64) error
}

type AlertRepository interface {
	CreateAlert(ctx context.Context, alert *model.SOSAlert) error
	GetAlert(ctx context.Context, id int64) (*model.SOSAlert, error)
	ListAlerts(ctx context.Context) ([]model.SOSAlert, error)
	ListAlertsByUsername(ctx context.Context, username string) ([]model.SOSAlert, error)
	LatestActiveAlert(ctx context.Context, username string) (*model.SOSAlert, error)
	ResolveAlert(ctx context.Context, id int64, at time.Time) (*model.SOSAlert, error)
	SetAlertAudio(ctx context.Context, id int64, key string) error
}

type NotificationRepository interface {
	CreateAttempts(ctx context.Context, attempts []model.NotificationAttempt) ([]model.NotificationAttempt, error)
	FinishAttempt(ctx context.Context, id int64, status model.AttemptStatus, errMsg string, at time.Time) error
	ListAttempts(ctx context.Context, alertID int64) ([]model.NotificationAttempt, error)
}

type AdminRepository interface {
	CreateAdmin(ctx context.Context, admin *model.Admin) error
	GetAdmin(ctx context.Context, id int64) (*model.Admin, error)
	GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error)
	ListAdmins(ctx context.Context) ([]model.Admin, error)
	CountAdmins(ctx context.Context) (int, error)
	UpdateAdminPassword(ctx context.Context, id int64, hash string) error
	// DeleteAdmin removes the admin unless it is the only one left, in
	// which case it returns ErrLastAdmin. Count and delete share one
	// transaction.
	DeleteAdmin(ctx context.Context, id int64) error
}

type RatingRepository interface {
	UpsertRating(ctx context.Context, username string, rating int, at time.Time) error
	GetRating(ctx context.Context, username string) (*model.StarRating, error)
	ListRatings(ctx context.Context) ([]model.StarRating, error)
}

type PushRepository interface {
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeactivateSubscription(ctx context.Context, endpoint string) error
	ListActiveSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
}

// PendingStore keeps registrations that are waiting for email verification.
// Get returns apperror.ErrNotFound for unknown or expired tokens.
type PendingStore interface {
	SavePending(ctx context.Context, p *model.PendingRegistration) error
	GetPending(ctx context.Context, token string) (*model.PendingRegistration, error)
	DeletePending(ctx context.Context, token string) error
}
