package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/emailcheck"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

// DefaultHomeRadius is applied to a home_area that omits radius_m.
const DefaultHomeRadius = 1500

// coreKeys are the profile fields update_account accepts under "core".
var coreKeys = []string{"full_name", "phone", "country", "city", "language", "timezone"}

// editableKeys are the profile fields edit-profile accepts. Anything else
// in the request is ignored.
var editableKeys = map[string]bool{
	"full_name":              true,
	"phone":                  true,
	"country":                true,
	"city":                   true,
	"language":               true,
	"timezone":               true,
	"location_permission":    true,
	"comms_consent":          true,
	"secondary_phone":        true,
	"home_area":              true,
	"medical_notes":          true,
	"emergency_instructions": true,
	"avatar":                 true,
	"gender":                 true,
	"dob":                    true,
	"push_token":             true,
}

// ProfileService owns every change to a user's profile, notification
// preferences and trusted contacts.
//
// All writes go through UserRepository.MutateUser: the stored user is read,
// changed in memory and written back in one transaction, so a rejected or
// failed update leaves nothing behind.
type ProfileService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewProfileService(users repository.UserRepository, logger *slog.Logger) *ProfileService {
	return &ProfileService{users: users, logger: logger}
}

// ChannelsPatch carries only the channel toggles present in the request.
type ChannelsPatch struct {
	Email *bool `json:"email"`
	SMS   *bool `json:"sms"`
	Push  *bool `json:"push"`
}

// QuietHoursPatch carries only the quiet-hours bounds present in the request.
type QuietHoursPatch struct {
	Start *string `json:"start"`
	End   *string `json:"end"`
}

// PrefsPatch is a sparse notification_prefs update.
type PrefsPatch struct {
	Channels         *ChannelsPatch   `json:"channels"`
	QuietHours       *QuietHoursPatch `json:"quiet_hours"`
	HazardCategories []string         `json:"hazard_categories"`
}

// AccountUpdate is the body of update_account. Every section is optional and
// only the keys present are written.
type AccountUpdate struct {
	Core              map[string]any `json:"core"`
	Consents          map[string]any `json:"consents"`
	NotificationPrefs *PrefsPatch    `json:"notification_prefs"`
	Optional          map[string]any `json:"optional"`
}

// UpdateAccount merges a sparse update into the stored user.
//
// MERGE RULES:
//   - core: each recognised key present overwrites that profile key
//   - consents: merged key by key into profile["consents"]
//   - notification_prefs: channels and quiet_hours merged field by field on
//     top of the defaults; hazard_categories replaced when present
//   - optional: each key written as-is, except home_area which must carry
//     lat and lng and gets radius_m 1500 when it has none
//
// Keys absent from the request are never touched.
func (s *ProfileService) UpdateAccount(ctx context.Context, username string, in AccountUpdate) (*model.User, error) {
	if in.NotificationPrefs != nil && in.NotificationPrefs.QuietHours != nil {
		qh := in.NotificationPrefs.QuietHours
		if (qh.Start != nil && !model.ValidClock(*qh.Start)) || (qh.End != nil && !model.ValidClock(*qh.End)) {
			return nil, apperror.ValidationFailed("quiet_hours", "Quiet hours must be HH:MM")
		}
	}

	var homeArea map[string]any
	if raw, ok := in.Optional["home_area"]; ok {
		ha, err := normalizeHomeArea(raw)
		if err != nil {
			return nil, err
		}
		homeArea = ha
	}

	user, err := s.users.MutateUser(ctx, username, func(u *model.User) error {
		for _, k := range coreKeys {
			if v, ok := in.Core[k]; ok {
				u.Profile[k] = v
			}
		}

		if len(in.Consents) > 0 {
			consents, _ := u.Profile["consents"].(map[string]any)
			if consents == nil {
				consents = map[string]any{}
			}
			for k, v := range in.Consents {
				consents[k] = v
			}
			u.Profile["consents"] = consents
		}

		if in.NotificationPrefs != nil {
			u.NotificationPrefs = mergePrefs(u.NotificationPrefs, *in.NotificationPrefs)
		}

		for k, v := range in.Optional {
			if k == "home_area" {
				u.Profile[k] = homeArea
				continue
			}
			u.Profile[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, updateFailed(err)
	}

	s.logger.Info("account updated", slog.String("username", username))
	return user, nil
}

// mergePrefs applies patch on top of current. current has already been
// filled from the defaults when it was loaded.
func mergePrefs(current model.NotificationPrefs, patch PrefsPatch) model.NotificationPrefs {
	out := current
	if c := patch.Channels; c != nil {
		if c.Email != nil {
			out.Channels.Email = *c.Email
		}
		if c.SMS != nil {
			out.Channels.SMS = *c.SMS
		}
		if c.Push != nil {
			out.Channels.Push = *c.Push
		}
	}
	if q := patch.QuietHours; q != nil {
		if q.Start != nil {
			out.QuietHours.Start = *q.Start
		}
		if q.End != nil {
			out.QuietHours.End = *q.End
		}
	}
	if patch.HazardCategories != nil {
		out.HazardCategories = append([]string{}, patch.HazardCategories...)
	}
	return out
}

func normalizeHomeArea(raw any) (map[string]any, error) {
	ha, ok := raw.(map[string]any)
	if !ok {
		return nil, apperror.ValidationFailed("home_area", "home_area requires lat and lng")
	}
	p := model.Profile(ha)
	lat, latOK := p.Float("lat")
	lng, lngOK := p.Float("lng")
	if !latOK || !lngOK {
		return nil, apperror.ValidationFailed("home_area", "home_area requires lat and lng")
	}
	out := map[string]any{"lat": lat, "lng": lng, "radius_m": float64(DefaultHomeRadius)}
	if r, ok := p.Float("radius_m"); ok {
		out["radius_m"] = r
	}
	for k, v := range ha {
		if _, set := out[k]; !set {
			out[k] = v
		}
	}
	return out, nil
}

// updateFailed hides storage failures behind the generic update message.
// Domain errors pass through unchanged.
func updateFailed(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("service/profile: updating account: %w", err)
}

// OnboardingInput is the first-run form.
type OnboardingInput struct {
	FullName           string
	Phone              string
	Country            string
	CountryName        string
	City               string
	Language           string
	Timezone           string
	LocationPermission bool
	CommsConsent       bool

	ContactName     string
	ContactEmail    string
	ContactPhone    string
	ContactRelation string
	ContactChannel  string
}

// Onboarding stores the first-run profile and, when a contact name and email
// were given, appends the first trusted contact.
func (s *ProfileService) Onboarding(ctx context.Context, username string, in OnboardingInput) (*model.User, error) {
	contactName := strings.TrimSpace(in.ContactName)
	contactEmail := strings.TrimSpace(in.ContactEmail)
	addContact := contactName != "" && contactEmail != ""
	if addContact && !emailcheck.ValidFormat(contactEmail) {
		return nil, apperror.ValidationFailed("contact_email", "Invalid contact email")
	}

	user, err := s.users.MutateUser(ctx, username, func(u *model.User) error {
		u.Profile["full_name"] = in.FullName
		u.Profile["phone"] = in.Phone
		u.Profile["country"] = in.Country
		u.Profile["country_name"] = in.CountryName
		u.Profile["city"] = in.City
		u.Profile["language"] = in.Language
		u.Profile["timezone"] = in.Timezone
		u.Profile["location_permission"] = in.LocationPermission
		u.Profile["comms_consent"] = in.CommsConsent

		if addContact {
			u.TrustedContacts = append(u.TrustedContacts, model.TrustedContact{
				ID:       model.NextContactID(u.TrustedContacts),
				Name:     contactName,
				Email:    contactEmail,
				Phone:    in.ContactPhone,
				Relation: in.ContactRelation,
				Channel:  in.ContactChannel,
			})
		}
		return nil
	})
	if err != nil {
		return nil, updateFailed(err)
	}

	s.logger.Info("onboarding completed", slog.String("username", username))
	return user, nil
}

// EditProfile writes the recognised keys of fields into the profile.
func (s *ProfileService) EditProfile(ctx context.Context, username string, fields map[string]any) (*model.User, error) {
	var homeArea map[string]any
	if raw, ok := fields["home_area"]; ok {
		ha, err := normalizeHomeArea(raw)
		if err != nil {
			return nil, err
		}
		homeArea = ha
	}

	user, err := s.users.MutateUser(ctx, username, func(u *model.User) error {
		for k, v := range fields {
			if !editableKeys[k] {
				continue
			}
			if k == "home_area" {
				v = homeArea
			}
			u.Profile[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, updateFailed(err)
	}
	return user, nil
}

// ContactInput is a trusted contact as submitted by the user.
type ContactInput struct {
	Name     string
	Email    string
	Phone    string
	Relation string
	Channel  string
}

// AddContact appends a contact with id max(existing)+1.
func (s *ProfileService) AddContact(ctx context.Context, username string, in ContactInput) (*model.TrustedContact, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "Contact name is required")
	}
	if !emailcheck.ValidFormat(email) {
		return nil, apperror.ValidationFailed("email", "Invalid contact email")
	}

	var added model.TrustedContact
	_, err := s.users.MutateUser(ctx, username, func(u *model.User) error {
		added = model.TrustedContact{
			ID:       model.NextContactID(u.TrustedContacts),
			Name:     name,
			Email:    email,
			Phone:    strings.TrimSpace(in.Phone),
			Relation: in.Relation,
			Channel:  in.Channel,
		}
		u.TrustedContacts = append(u.TrustedContacts, added)
		return nil
	})
	if err != nil {
		return nil, updateFailed(err)
	}

	s.logger.Info("trusted contact added", slog.String("username", username), slog.Int("contact_id", added.ID))
	return &added, nil
}

// RemoveContact deletes the contact with the given id. raw is whatever the
// client sent: a JSON number or a numeric string. An unknown id is a no-op.
func (s *ProfileService) RemoveContact(ctx context.Context, username string, raw any) ([]model.TrustedContact, error) {
	id, err := contactID(raw)
	if err != nil {
		return nil, err
	}

	user, err := s.users.MutateUser(ctx, username, func(u *model.User) error {
		u.TrustedContacts = model.RemoveContact(u.TrustedContacts, id)
		return nil
	})
	if err != nil {
		return nil, updateFailed(err)
	}
	return user.TrustedContacts, nil
}

func contactID(raw any) (int, error) {
	invalid := apperror.ValidationFailed("contact_id", "Invalid contact id")
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, invalid
		}
		return int(v), nil
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, invalid
		}
		return n, nil
	}
	return 0, invalid
}
