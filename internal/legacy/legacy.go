// Package legacy imports the JSON files written by the first, file-backed
// version of Proteeti (data/users.json and data/reports.json).
//
// users.json is an object keyed by username. Passwords in it are plaintext
// and are bcrypt-hashed on the way in. reports.json is an array.
//
// The import is additive: users whose username (or email) already exists are
// skipped, and running it twice imports reports twice.
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

type legacyUser struct {
	Email             string                 `json:"email"`
	Password          string                 `json:"password"`
	Verified          *bool                  `json:"verified"`
	CreatedAt         string                 `json:"created_at"`
	Profile           model.Profile          `json:"profile"`
	TrustedContacts   []model.TrustedContact `json:"trusted_contacts"`
	NotificationPrefs json.RawMessage        `json:"notification_prefs"`
}

type legacyReport struct {
	Username    string  `json:"username"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Timestamp   string  `json:"timestamp"`
}

// Summary counts what an import did.
type Summary struct {
	UsersImported   int `json:"users_imported"`
	UsersSkipped    int `json:"users_skipped"`
	ReportsImported int `json:"reports_imported"`
}

// Importer writes legacy records through the normal repositories.
type Importer struct {
	users     repository.UserRepository
	reports   repository.ReportRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
	now       func() time.Time
}

func NewImporter(users repository.UserRepository, reports repository.ReportRepository, passwords *auth.PasswordService, logger *slog.Logger) *Importer {
	return &Importer{
		users:     users,
		reports:   reports,
		passwords: passwords,
		logger:    logger,
		now:       time.Now,
	}
}

// ImportUsers reads a users.json document. Users are processed in username
// order so repeated runs log identically.
func (im *Importer) ImportUsers(ctx context.Context, r io.Reader, sum *Summary) error {
	var doc map[string]legacyUser
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("legacy: decoding users: %w", err)
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		created, err := im.importUser(ctx, name, doc[name])
		if err != nil {
			return err
		}
		if created {
			sum.UsersImported++
		} else {
			sum.UsersSkipped++
		}
	}
	return nil
}

func (im *Importer) importUser(ctx context.Context, username string, lu legacyUser) (bool, error) {
	if _, err := im.users.GetUserByUsername(ctx, username); err == nil {
		im.logger.Info("skipping existing user", slog.String("username", username))
		return false, nil
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return false, err
	}
	if lu.Email == "" {
		im.logger.Warn("skipping user without email", slog.String("username", username))
		return false, nil
	}

	u := &model.User{
		Username:          username,
		Email:             strings.TrimSpace(lu.Email),
		Verified:          true,
		CreatedAt:         parseTimestamp(lu.CreatedAt, im.now()),
		Profile:           lu.Profile,
		TrustedContacts:   renumberContacts(lu.TrustedContacts),
		NotificationPrefs: model.DefaultNotificationPrefs(),
	}
	if lu.Verified != nil {
		u.Verified = *lu.Verified
	}
	if u.Profile == nil {
		u.Profile = model.Profile{}
	}
	if len(lu.NotificationPrefs) > 0 && string(lu.NotificationPrefs) != "null" {
		if err := json.Unmarshal(lu.NotificationPrefs, &u.NotificationPrefs); err != nil {
			im.logger.Warn("ignoring unreadable notification prefs",
				slog.String("username", username), slog.String("error", err.Error()))
			u.NotificationPrefs = model.DefaultNotificationPrefs()
		}
		if u.NotificationPrefs.HazardCategories == nil {
			u.NotificationPrefs.HazardCategories = []string{}
		}
	}
	if lu.Password != "" {
		hash, err := im.passwords.Hash(lu.Password)
		if err != nil {
			return false, fmt.Errorf("legacy: hashing password for %s: %w", username, err)
		}
		u.PasswordHash = hash
	}

	if err := im.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			im.logger.Warn("skipping user with conflicting email",
				slog.String("username", username), slog.String("email", u.Email))
			return false, nil
		}
		return false, err
	}
	im.logger.Info("imported user", slog.String("username", username))
	return true, nil
}

// ImportReports reads a reports.json array.
func (im *Importer) ImportReports(ctx context.Context, r io.Reader, sum *Summary) error {
	var doc []legacyReport
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("legacy: decoding reports: %w", err)
	}

	for i, lr := range doc {
		if lr.Category == "" {
			im.logger.Warn("skipping report without category", slog.Int("index", i))
			continue
		}
		rep := &model.Report{
			Username:    lr.Username,
			Lat:         lr.Lat,
			Lng:         lr.Lng,
			Category:    lr.Category,
			Description: lr.Description,
			CreatedAt:   parseTimestamp(lr.Timestamp, im.now()),
		}
		if err := im.reports.CreateReport(ctx, rep); err != nil {
			return fmt.Errorf("legacy: report %d: %w", i, err)
		}
		sum.ReportsImported++
	}
	return nil
}

// renumberContacts keeps valid unique ids and numbers every other contact
// from max+1 upwards. List order is preserved.
func renumberContacts(in []model.TrustedContact) []model.TrustedContact {
	keep := make([]bool, len(in))
	seen := map[int]bool{}
	next := 1
	for i, c := range in {
		if c.ID > 0 && !seen[c.ID] {
			seen[c.ID] = true
			keep[i] = true
			if c.ID >= next {
				next = c.ID + 1
			}
		}
	}

	out := make([]model.TrustedContact, len(in))
	for i, c := range in {
		if !keep[i] {
			c.ID = next
			next++
		}
		out[i] = c
	}
	return out
}

// timestampLayouts are the formats Python's isoformat() produces, with and
// without an offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp reads a legacy timestamp as UTC, falling back to def.
func parseTimestamp(s string, def time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return def.UTC()
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return def.UTC()
}
