package auth

import (
	"context"
	"net/http"
)

// TokenCookie is the name of the HttpOnly cookie that carries the user JWT.
const TokenCookie = "token"

// contextKey keeps this package's context values private.
type contextKey string

const usernameKey contextKey = "username"

// RequireAuth rejects requests without a valid token cookie with 401 and
// otherwise stores the username in the request context.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, err := usernameFromCookie(r, tokens)
			if err != nil {
				writeUnauthorized(w, "Login required")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUsername(r.Context(), username)))
		})
	}
}

// OptionalAuth attaches the username when a valid cookie is present and
// lets anonymous requests through unchanged.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if username, err := usernameFromCookie(r, tokens); err == nil {
				r = r.WithContext(ContextWithUsername(r.Context(), username))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UsernameFromContext returns the authenticated username, or ("", false)
// for anonymous requests.
func UsernameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(usernameKey).(string)
	return name, ok && name != ""
}

// ContextWithUsername is what RequireAuth does after validating the cookie.
// Handler tests call it directly.
func ContextWithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

func usernameFromCookie(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie(TokenCookie)
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}

// writeUnauthorized matches the handler package's error body. It is written
// by hand here because handler imports auth, not the other way round.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + message + `"}`))
}
