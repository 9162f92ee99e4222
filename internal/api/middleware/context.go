package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

type contextKey string

const (
	sessionKey   contextKey = "session"
	rawTokenKey  contextKey = "raw_token"
	requestIDKey contextKey = "request_id"
)

// SetSession stores the authenticated session in ctx.
func SetSession(ctx context.Context, s *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

func GetSession(r *http.Request) (*models.Session, bool) {
	s, ok := r.Context().Value(sessionKey).(*models.Session)
	return s, ok && s != nil
}

func setRawToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, rawTokenKey, token)
}

// GetRawToken returns the gateway token the request authenticated with.
func GetRawToken(r *http.Request) (string, bool) {
	token, ok := r.Context().Value(rawTokenKey).(string)
	return token, ok
}

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
