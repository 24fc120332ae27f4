// Package service holds Proteeti's business rules. Handlers translate HTTP
// into calls on these services; services talk to storage only through the
// repository interfaces.
//
//	handler (HTTP) → service (rules) → repository (storage)
//	                         ↘ notify / storage / auth helpers
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/emailcheck"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/notify"
	"github.com/sakif/proteeti/internal/repository"
)

const (
	// DefaultPendingTTL is how long a verification code stays valid.
	DefaultPendingTTL = 10 * time.Minute

	verificationSendTimeout = 8 * time.Second
)

// AuthService runs registration, email verification, password login and
// OAuth sign-in. Every successful path ends with a session token.
type AuthService struct {
	users     repository.UserRepository
	pending   repository.PendingStore
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	checker   emailcheck.Checker
	mailer    notify.Mailer
	logger    *slog.Logger

	pendingTTL time.Duration
	// exposeCode returns the verification code in the register response.
	// Set in dev mode and when no SMTP server is configured.
	exposeCode bool
	now        func() time.Time
}

// AuthOptions are the AuthService settings that come from configuration.
type AuthOptions struct {
	PendingTTL time.Duration
	ExposeCode bool
}

func NewAuthService(
	users repository.UserRepository,
	pending repository.PendingStore,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	checker emailcheck.Checker,
	mailer notify.Mailer,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthService {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}
	return &AuthService{
		users:      users,
		pending:    pending,
		tokens:     tokens,
		passwords:  passwords,
		checker:    checker,
		mailer:     mailer,
		logger:     logger,
		pendingTTL: opts.PendingTTL,
		exposeCode: opts.ExposeCode,
		now:        time.Now,
	}
}

// AuthResult bundles the signed-in user with their session token.
type AuthResult struct {
	User  *model.User
	Token string
}

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// RegisterResult identifies the pending registration. DevCode is only set
// when the code is not mailed.
type RegisterResult struct {
	PendingToken string
	ExpiresAt    time.Time
	DevCode      string
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// Register validates the sign-up, stores a pending registration with a hashed
// password and sends the verification code. No user row exists until
// VerifyEmail succeeds.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	switch {
	case username == "" || email == "" || in.Password == "" || in.ConfirmPassword == "":
		return nil, apperror.ValidationFailed("", "Please fill out all fields")
	case !usernamePattern.MatchString(username):
		return nil, apperror.ValidationFailed("username", "Username must be 3-32 letters, digits, dots, dashes or underscores")
	case !emailcheck.ValidFormat(email):
		return nil, apperror.ValidationFailed("email", "Invalid email address")
	case in.Password != in.ConfirmPassword:
		return nil, apperror.ValidationFailed("confirm_password", "Passwords do not match")
	}

	if err := s.ensureUnused(ctx, username, email); err != nil {
		return nil, err
	}

	if err := s.checker.Check(ctx, email); err != nil {
		if errors.Is(err, emailcheck.ErrUndeliverable) {
			return nil, apperror.ValidationFailed("email", "Email address appears to be invalid or undeliverable")
		}
		// Anything else means the check could not run. Carry on.
		s.logger.Warn("email deliverability check failed", slog.String("error", err.Error()))
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "Password must be 72 bytes or fewer")
	}
	code, err := auth.NewVerificationCode()
	if err != nil {
		return nil, err
	}

	p := &model.PendingRegistration{
		Token:        auth.NewOpaqueToken(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Code:         code,
		ExpiresAt:    s.now().Add(s.pendingTTL).UTC(),
	}
	if err := s.pending.SavePending(ctx, p); err != nil {
		return nil, fmt.Errorf("service/auth: saving pending registration: %w", err)
	}

	res := &RegisterResult{PendingToken: p.Token, ExpiresAt: p.ExpiresAt}
	if s.exposeCode {
		s.logger.Info("verification code (dev mode)", slog.String("email", email), slog.String("code", code))
		res.DevCode = code
		return res, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, verificationSendTimeout)
	defer cancel()
	if err := s.mailer.Send(sendCtx, notify.VerificationMessage(email, code)); err != nil {
		s.logger.Error("sending verification code failed",
			slog.String("email", email), slog.String("error", err.Error()))
	}
	return res, nil
}

func (s *AuthService) ensureUnused(ctx context.Context, username, email string) error {
	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return apperror.Conflict("username", "Username already taken")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return err
	}
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return apperror.Conflict("email", "Email already registered")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return err
	}
	return nil
}

// VerifyEmail completes a registration. The code is compared as a string.
func (s *AuthService) VerifyEmail(ctx context.Context, pendingToken, code string) (*AuthResult, error) {
	if pendingToken == "" {
		return nil, apperror.ValidationFailed("code", "Verification session expired")
	}
	p, err := s.pending.GetPending(ctx, pendingToken)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.ValidationFailed("code", "Verification session expired")
		}
		return nil, err
	}
	if p.Expired(s.now()) {
		_ = s.pending.DeletePending(ctx, pendingToken)
		return nil, apperror.ValidationFailed("code", "Verification session expired")
	}
	if strings.TrimSpace(code) != p.Code {
		return nil, apperror.ValidationFailed("code", "Verification code incorrect")
	}

	user := &model.User{
		Username:          p.Username,
		Email:             p.Email,
		PasswordHash:      p.PasswordHash,
		Verified:          true,
		Profile:           model.Profile{},
		TrustedContacts:   []model.TrustedContact{},
		NotificationPrefs: model.DefaultNotificationPrefs(),
	}
	// The username or email may have been claimed while the code was in
	// flight; CreateUser reports that as a conflict.
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	if err := s.pending.DeletePending(ctx, pendingToken); err != nil {
		s.logger.Warn("deleting pending registration failed", slog.String("error", err.Error()))
	}

	s.logger.Info("user registered", slog.String("username", user.Username))
	return s.issue(user)
}

// Login accepts a username or an email address. OAuth-only accounts have no
// password and are rejected the same way as a wrong password.
func (s *AuthService) Login(ctx context.Context, usernameOrEmail, password string) (*AuthResult, error) {
	id := strings.TrimSpace(usernameOrEmail)
	if id == "" || password == "" {
		return nil, apperror.ValidationFailed("", "Please fill out all fields")
	}

	var (
		user *model.User
		err  error
	)
	if strings.Contains(id, "@") {
		if !emailcheck.ValidFormat(id) {
			return nil, apperror.ValidationFailed("username_or_email", "Invalid email address")
		}
		user, err = s.users.GetUserByEmail(ctx, id)
	} else {
		user, err = s.users.GetUserByUsername(ctx, id)
	}
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = s.passwords.Verify("", password)
			return nil, apperror.Unauthorized("Invalid credentials")
		}
		return nil, err
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrInvalidPassword) {
			s.logger.Error("password comparison failed", slog.String("username", user.Username), slog.String("error", err.Error()))
		}
		return nil, apperror.Unauthorized("Invalid credentials")
	}

	s.logger.Info("user logged in", slog.String("username", user.Username))
	return s.issue(user)
}

// LoginOAuth signs in the account with the provider's email, creating one
// when none exists. New usernames come from the email's local part with a
// numeric suffix on collision.
func (s *AuthService) LoginOAuth(ctx context.Context, provider string, ou *auth.OAuthUser) (*AuthResult, error) {
	if ou == nil || ou.Email == "" {
		return nil, apperror.Unauthorized("OAuth login failed")
	}

	user, err := s.users.GetUserByEmail(ctx, ou.Email)
	if err == nil {
		s.logger.Info("user logged in via oauth", slog.String("provider", provider), slog.String("username", user.Username))
		return s.issue(user)
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	username, err := s.freeUsername(ctx, usernameFromEmail(ou.Email))
	if err != nil {
		return nil, err
	}
	profile := model.Profile{}
	if ou.Name != "" {
		profile["full_name"] = ou.Name
	}
	user = &model.User{
		Username:          username,
		Email:             ou.Email,
		Verified:          true,
		Profile:           profile,
		TrustedContacts:   []model.TrustedContact{},
		NotificationPrefs: model.DefaultNotificationPrefs(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered via oauth", slog.String("provider", provider), slog.String("username", username))
	return s.issue(user)
}

// freeUsername returns base, or base1, base2, ... whichever is unused.
func (s *AuthService) freeUsername(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 1; i <= 1000; i++ {
		_, err := s.users.GetUserByUsername(ctx, candidate)
		if errors.Is(err, apperror.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s%d", base, i)
	}
	return "", fmt.Errorf("service/auth: no free username for %q", base)
}

var nonUsernameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = nonUsernameChars.ReplaceAllString(local, "")
	if len(local) < 3 {
		local = "user" + local
	}
	if len(local) > 28 {
		local = local[:28]
	}
	return local
}

// GetUser returns the signed-in user's record.
func (s *AuthService) GetUser(ctx context.Context, username string) (*model.User, error) {
	return s.users.GetUserByUsername(ctx, username)
}

// DeleteAccount removes the user. Their alerts and reports stay for the record.
func (s *AuthService) DeleteAccount(ctx context.Context, username string) error {
	if err := s.users.DeleteUser(ctx, username); err != nil {
		return err
	}
	s.logger.Info("user deleted their account", slog.String("username", username))
	return nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.Username)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for %s: %w", user.Username, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}
