package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/anomalyreport/internal/api/response"
	"github.com/kiranshivaraju/anomalyreport/internal/auth"
	"github.com/kiranshivaraju/anomalyreport/internal/detection"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

// SessionLookup resolves a raw gateway token.
type SessionLookup interface {
	Lookup(ctx context.Context, raw string) (*models.Session, error)
}

// Auth provides session authentication middleware.
type Auth struct {
	sessions SessionLookup
}

// NewAuth creates a new Auth middleware.
func NewAuth(s SessionLookup) *Auth {
	return &Auth{sessions: s}
}

// Authenticate validates the Bearer token, resolves the session, and attaches
// it and the upstream access token to the request context. Websocket
// upgrades may pass the token as the "token" query parameter.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken := extractBearerToken(r)
		if rawToken == "" && isWebsocketUpgrade(r) {
			rawToken = r.URL.Query().Get("token")
		}
		if rawToken == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		sess, err := a.sessions.Lookup(r.Context(), rawToken)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				response.Error(w, http.StatusUnauthorized,
					"INVALID_TOKEN", "Invalid or expired session", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate session", nil)
			return
		}

		ctx := SetSession(r.Context(), sess)
		ctx = setRawToken(ctx, rawToken)
		ctx = detection.WithAccessToken(ctx, sess.AccessToken)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
