package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// OAuthStateCookie holds the state value between /login and /callback.
const OAuthStateCookie = "oauth_state"

// ErrUnknownProvider is returned by Providers.Get for unconfigured names.
var ErrUnknownProvider = errors.New("auth: unknown oauth provider")

// OAuthUser is the identity a provider vouches for.
type OAuthUser struct {
	Email string
	Name  string
}

// Provider runs the authorization code flow against one identity provider.
type Provider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*OAuthUser, error)
}

// Providers is the set of configured providers keyed by name.
type Providers map[string]Provider

// Get returns the named provider.
func (p Providers) Get(name string) (Provider, error) {
	prov, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return prov, nil
}

// OAuthCredentials are the client credentials of one provider.
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
}

// NewProviders builds the providers that have credentials. Callback URLs are
// {callbackBase}/auth/{provider}/callback.
func NewProviders(callbackBase string, googleCreds, githubCreds OAuthCredentials) Providers {
	base := strings.TrimRight(callbackBase, "/")
	out := Providers{}
	if googleCreds.ClientID != "" && googleCreds.ClientSecret != "" {
		out["google"] = &oauthProvider{
			name: "google",
			config: &oauth2.Config{
				ClientID:     googleCreds.ClientID,
				ClientSecret: googleCreds.ClientSecret,
				RedirectURL:  base + "/auth/google/callback",
				Scopes:       []string{"openid", "email", "profile"},
				Endpoint:     google.Endpoint,
			},
			userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
			decode:      decodeGoogleUser,
		}
	}
	if githubCreds.ClientID != "" && githubCreds.ClientSecret != "" {
		out["github"] = &oauthProvider{
			name: "github",
			config: &oauth2.Config{
				ClientID:     githubCreds.ClientID,
				ClientSecret: githubCreds.ClientSecret,
				RedirectURL:  base + "/auth/github/callback",
				Scopes:       []string{"read:user", "user:email"},
				Endpoint:     github.Endpoint,
			},
			userInfoURL: "https://api.github.com/user",
			emailsURL:   "https://api.github.com/user/emails",
			decode:      decodeGitHubUser,
		}
	}
	return out
}

type oauthProvider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	// emailsURL is consulted when the profile hides the email (GitHub).
	emailsURL string
	decode    func([]byte) (*OAuthUser, error)
}

func (p *oauthProvider) Name() string { return p.name }

func (p *oauthProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the code for a token and fetches the user's profile with it.
func (p *oauthProvider) Exchange(ctx context.Context, code string) (*OAuthUser, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: %s code exchange: %w", p.name, err)
	}
	client := p.config.Client(ctx, token)

	body, err := getJSON(ctx, client, p.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("auth: %s userinfo: %w", p.name, err)
	}
	user, err := p.decode(body)
	if err != nil {
		return nil, fmt.Errorf("auth: %s userinfo: %w", p.name, err)
	}

	if user.Email == "" && p.emailsURL != "" {
		body, err := getJSON(ctx, client, p.emailsURL)
		if err != nil {
			return nil, fmt.Errorf("auth: %s emails: %w", p.name, err)
		}
		user.Email = primaryGitHubEmail(body)
	}
	if user.Email == "" {
		return nil, fmt.Errorf("auth: %s did not return an email address", p.name)
	}
	return user, nil
}

func getJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func decodeGoogleUser(body []byte) (*OAuthUser, error) {
	var u struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	if u.Email != "" && !u.EmailVerified {
		return nil, errors.New("email address is not verified")
	}
	return &OAuthUser{Email: u.Email, Name: u.Name}, nil
}

func decodeGitHubUser(body []byte) (*OAuthUser, error) {
	var u struct {
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	name := u.Name
	if name == "" {
		name = u.Login
	}
	return &OAuthUser{Email: u.Email, Name: name}, nil
}

// primaryGitHubEmail picks the verified primary address from /user/emails.
func primaryGitHubEmail(body []byte) string {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return ""
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}
