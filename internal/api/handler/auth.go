package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	mw "github.com/kiranshivaraju/anomalyreport/internal/api/middleware"
	"github.com/kiranshivaraju/anomalyreport/internal/api/response"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

// Authenticator is the upstream user service.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*models.AuthResponse, error)
	Register(ctx context.Context, body models.CreateUserBody) (*models.AuthResponse, error)
}

// SessionIssuer creates and revokes gateway sessions.
type SessionIssuer interface {
	Issue(ctx context.Context, auth *models.AuthResponse) (string, *models.Session, error)
	Revoke(ctx context.Context, raw string) error
}

// PageCloser closes the report page of a session.
type PageCloser interface {
	Close(sessionID string)
}

type tokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// NewLoginHandler returns an http.HandlerFunc for POST /api/v1/auth/login.
func NewLoginHandler(users Authenticator, sessions SessionIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		resp, err := users.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		issueSession(w, r, sessions, resp, http.StatusOK)
	}
}

// NewRegisterHandler returns an http.HandlerFunc for POST /api/v1/auth/register.
func NewRegisterHandler(users Authenticator, sessions SessionIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateUserBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		resp, err := users.Register(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		issueSession(w, r, sessions, resp, http.StatusCreated)
	}
}

func issueSession(w http.ResponseWriter, r *http.Request, sessions SessionIssuer, resp *models.AuthResponse, status int) {
	raw, sess, err := sessions.Issue(r.Context(), resp)
	if err != nil {
		slog.Error("issuing session failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create session", nil)
		return
	}

	body := tokenResponse{Token: raw, ExpiresAt: sess.ExpiresAt, User: sess.User}
	if status == http.StatusCreated {
		response.Created(w, body)
		return
	}
	response.JSON(w, body)
}

// NewLogoutHandler returns an http.HandlerFunc for POST /api/v1/auth/logout.
// It closes the session's report page before revoking the token.
func NewLogoutHandler(sessions SessionIssuer, pages PageCloser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := mw.GetSession(r)
		raw, hasRaw := mw.GetRawToken(r)
		if !ok || !hasRaw {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing session", nil)
			return
		}

		pages.Close(sess.ID)
		if err := sessions.Revoke(r.Context(), raw); err != nil {
			writeError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewMeHandler returns an http.HandlerFunc for GET /api/v1/auth/me.
func NewMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := mw.GetSession(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing session", nil)
			return
		}
		response.JSON(w, map[string]any{
			"user":       sess.User,
			"expires_at": sess.ExpiresAt,
		})
	}
}
