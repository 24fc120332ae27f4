package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

// AdminService manages dashboard operators. Admins are a separate
// credential space from users; at least one must always exist.
type AdminService struct {
	admins    repository.AdminRepository
	users     repository.UserRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAdminService(admins repository.AdminRepository, users repository.UserRepository, passwords *auth.PasswordService, logger *slog.Logger) *AdminService {
	return &AdminService{admins: admins, users: users, passwords: passwords, logger: logger}
}

// SetupRequired reports whether no admin exists yet.
func (s *AdminService) SetupRequired(ctx context.Context) (bool, error) {
	n, err := s.admins.CountAdmins(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Setup creates the first admin. Once any admin exists it is forbidden.
func (s *AdminService) Setup(ctx context.Context, username, password string) (*model.Admin, error) {
	required, err := s.SetupRequired(ctx)
	if err != nil {
		return nil, err
	}
	if !required {
		return nil, apperror.Forbidden("Admin already configured")
	}
	return s.Create(ctx, username, password)
}

// Create adds an admin. A taken username is a conflict.
func (s *AdminService) Create(ctx context.Context, username, password string) (*model.Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperror.ValidationFailed("username", "Username is required")
	}
	if err := auth.CheckAdminPassword(password); err != nil {
		return nil, apperror.ValidationFailed("password", fmt.Sprintf("Password must be at least %d characters", auth.MinAdminPasswordLength))
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "Password must be 72 bytes or fewer")
	}

	a := &model.Admin{Username: username, PasswordHash: hash}
	if err := s.admins.CreateAdmin(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("admin created", slog.String("admin", username), slog.Int64("admin_id", a.ID))
	return a, nil
}

// Login checks admin credentials. Failures never say which part was wrong.
func (s *AdminService) Login(ctx context.Context, username, password string) (*model.Admin, error) {
	a, err := s.admins.GetAdminByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = s.passwords.Verify("", password)
			return nil, apperror.Unauthorized("Invalid admin credentials")
		}
		return nil, err
	}
	if err := s.passwords.Verify(a.PasswordHash, password); err != nil {
		return nil, apperror.Unauthorized("Invalid admin credentials")
	}
	s.logger.Info("admin logged in", slog.String("admin", a.Username))
	return a, nil
}

func (s *AdminService) List(ctx context.Context) ([]model.Admin, error) {
	return s.admins.ListAdmins(ctx)
}

// Delete removes another admin. Deleting yourself goes through DeleteSelf.
func (s *AdminService) Delete(ctx context.Context, callerID, targetID int64) error {
	if callerID == targetID {
		return apperror.ValidationFailed("id", "Use delete-account to remove your own admin account")
	}
	if _, err := s.admins.GetAdmin(ctx, targetID); err != nil {
		return err
	}
	if err := s.deleteAdmin(ctx, targetID); err != nil {
		return err
	}
	s.logger.Info("admin deleted", slog.Int64("admin_id", targetID), slog.Int64("by", callerID))
	return nil
}

// DeleteSelf removes the caller's own admin account, still refusing to
// remove the last one. The caller must clear the session afterwards.
func (s *AdminService) DeleteSelf(ctx context.Context, callerID int64) error {
	if err := s.deleteAdmin(ctx, callerID); err != nil {
		return err
	}
	s.logger.Info("admin deleted own account", slog.Int64("admin_id", callerID))
	return nil
}

func (s *AdminService) deleteAdmin(ctx context.Context, id int64) error {
	err := s.admins.DeleteAdmin(ctx, id)
	if errors.Is(err, repository.ErrLastAdmin) {
		return apperror.ValidationFailed("id", "Cannot delete the last admin")
	}
	return err
}

// ChangePassword replaces the caller's password after checking the current one.
func (s *AdminService) ChangePassword(ctx context.Context, adminID int64, current, next string) error {
	a, err := s.admins.GetAdmin(ctx, adminID)
	if err != nil {
		return err
	}
	if err := s.passwords.Verify(a.PasswordHash, current); err != nil {
		return apperror.ValidationFailed("current_password", "Current password is incorrect")
	}
	if err := auth.CheckAdminPassword(next); err != nil {
		return apperror.ValidationFailed("new_password", fmt.Sprintf("Password must be at least %d characters", auth.MinAdminPasswordLength))
	}
	hash, err := s.passwords.Hash(next)
	if err != nil {
		return apperror.ValidationFailed("new_password", "Password must be 72 bytes or fewer")
	}
	if err := s.admins.UpdateAdminPassword(ctx, adminID, hash); err != nil {
		return err
	}
	s.logger.Info("admin password changed", slog.Int64("admin_id", adminID))
	return nil
}

// ResetPassword sets a new password without the current one. Used by the
// operator CLI to recover a locked-out admin.
func (s *AdminService) ResetPassword(ctx context.Context, username, password string) (*model.Admin, error) {
	a, err := s.admins.GetAdminByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := auth.CheckAdminPassword(password); err != nil {
		return nil, apperror.ValidationFailed("password", fmt.Sprintf("Password must be at least %d characters", auth.MinAdminPasswordLength))
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "Password must be 72 bytes or fewer")
	}
	if err := s.admins.UpdateAdminPassword(ctx, a.ID, hash); err != nil {
		return nil, err
	}
	s.logger.Info("admin password reset", slog.String("admin", username))
	return a, nil
}

// ListUsers returns every end-user account for the admin console.
func (s *AdminService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users.ListUsers(ctx)
}
