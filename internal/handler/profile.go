package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/service"
)

// ProfileHandler serves the signed-in user's own record: account view,
// profile updates and trusted contacts. Every route requires a session.
type ProfileHandler struct {
	accounts *service.AuthService
	profiles *service.ProfileService
	logger   *slog.Logger
}

func NewProfileHandler(accounts *service.AuthService, profiles *service.ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{accounts: accounts, profiles: profiles, logger: logger}
}

// HandleAccount returns the caller's user record.
//
// HTTP: GET /account, GET /profile
func (h *ProfileHandler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	user, err := h.accounts.GetUser(r.Context(), username)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// HandleUpdateAccount merges a sparse update into the profile.
//
// HTTP: POST /update_account, POST /account
// REQUEST BODY: {"core":{...}, "consents":{...}, "notification_prefs":{...}, "optional":{...}}
//
// Storage failures are reported as "Unable to update account" rather than
// the generic 500 message.
func (h *ProfileHandler) HandleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req service.AccountUpdate
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.profiles.UpdateAccount(r.Context(), username, req)
	if err != nil {
		h.writeUpdateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Message: "Account updated", User: newUserResponse(user)})
}

type accountResponse struct {
	Message string        `json:"message"`
	User    *userResponse `json:"user"`
}

type onboardingRequest struct {
	FullName           string `json:"full_name"`
	Phone              string `json:"phone"`
	Country            string `json:"country"`
	CountryName        string `json:"country_name"`
	City               string `json:"city"`
	Language           string `json:"language"`
	Timezone           string `json:"timezone"`
	LocationPermission bool   `json:"location_permission"`
	CommsConsent       bool   `json:"comms_consent"`
	ContactName        string `json:"contact_name"`
	ContactEmail       string `json:"contact_email"`
	ContactPhone       string `json:"contact_phone"`
	ContactRelation    string `json:"contact_relation"`
	ContactChannel     string `json:"contact_channel"`
}

// HandleOnboarding stores the first-run profile.
//
// HTTP: POST /onboarding
func (h *ProfileHandler) HandleOnboarding(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req onboardingRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.profiles.Onboarding(r.Context(), username, service.OnboardingInput{
		FullName:           req.FullName,
		Phone:              req.Phone,
		Country:            req.Country,
		CountryName:        req.CountryName,
		City:               req.City,
		Language:           req.Language,
		Timezone:           req.Timezone,
		LocationPermission: req.LocationPermission,
		CommsConsent:       req.CommsConsent,
		ContactName:        req.ContactName,
		ContactEmail:       req.ContactEmail,
		ContactPhone:       req.ContactPhone,
		ContactRelation:    req.ContactRelation,
		ContactChannel:     req.ContactChannel,
	})
	if err != nil {
		h.writeUpdateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Message: "Onboarding complete", User: newUserResponse(user)})
}

// HandleEditProfile writes any recognised profile keys.
//
// HTTP: POST /edit-profile
// REQUEST BODY: {"medical_notes": "...", "dob": "...", ...}
func (h *ProfileHandler) HandleEditProfile(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	fields := map[string]any{}
	if err := decodeBody(w, r, &fields); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.profiles.EditProfile(r.Context(), username, fields)
	if err != nil {
		h.writeUpdateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Message: "Profile updated", User: newUserResponse(user)})
}

type contactRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Relation string `json:"relation"`
	Channel  string `json:"channel"`
}

type contactsResponse struct {
	Message  string                 `json:"message"`
	Contact  *model.TrustedContact  `json:"contact,omitempty"`
	Contacts []model.TrustedContact `json:"contacts,omitempty"`
}

// HandleAddContact appends a trusted contact.
//
// HTTP: POST /add_trusted_contact
func (h *ProfileHandler) HandleAddContact(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req contactRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	c, err := h.profiles.AddContact(r.Context(), username, service.ContactInput{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Relation: req.Relation,
		Channel:  req.Channel,
	})
	if err != nil {
		h.writeUpdateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contactsResponse{Message: "Contact added", Contact: c})
}

type removeContactRequest struct {
	// Both are a number or a numeric string; "id" is accepted as an alias.
	ContactID any `json:"contact_id"`
	ID        any `json:"id"`
}

func (req removeContactRequest) contactID() any {
	if req.ContactID != nil {
		return req.ContactID
	}
	return req.ID
}

type removeContactResponse struct {
	Message  string                 `json:"message"`
	Contacts []model.TrustedContact `json:"contacts"`
}

// HandleRemoveContact removes a trusted contact by id.
//
// HTTP: POST /remove_trusted_contact
// REQUEST BODY: {"contact_id": 2}
// RESPONSE: 200 {"message", "contacts": [...]} (an empty list after the last one)
func (h *ProfileHandler) HandleRemoveContact(w http.ResponseWriter, r *http.Request) {
	username, err := requireUsername(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req removeContactRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	contacts, err := h.profiles.RemoveContact(r.Context(), username, req.contactID())
	if err != nil {
		h.writeUpdateError(w, r, err)
		return
	}
	if contacts == nil {
		contacts = []model.TrustedContact{}
	}
	writeJSON(w, http.StatusOK, removeContactResponse{Message: "Contact removed", Contacts: contacts})
}

// writeUpdateError keeps domain errors as they are and turns storage
// failures into the generic update failure.
func (h *ProfileHandler) writeUpdateError(w http.ResponseWriter, r *http.Request, err error) {
	if isAppError(err) {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Error("profile update failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "Unable to update account",
	})
}
