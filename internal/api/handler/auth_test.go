package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/anomalyreport/internal/api/handler"
	mw "github.com/kiranshivaraju/anomalyreport/internal/api/middleware"
	"github.com/kiranshivaraju/anomalyreport/internal/auth"
	"github.com/kiranshivaraju/anomalyreport/internal/detection"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── fixtures ────────────────────────────────────────────────────────────────

const testRawToken = "ar_handler_test_token"

func testSession() *models.Session {
	return &models.Session{
		ID:          "sess-1",
		TokenPrefix: testRawToken[:12],
		AccessToken: "upstream-token",
		User:        models.User{Name: "Ann", Email: "ann@example.com"},
		ExpiresAt:   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// authed attaches the test session the way the auth middleware does.
func authed(r *http.Request) *http.Request {
	ctx := mw.SetSession(r.Context(), testSession())
	return r.WithContext(ctx)
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "body: %s", w.Body.String())
	return data
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "body: %s", w.Body.String())
	return errObj["code"].(string)
}

// ─── mocks ───────────────────────────────────────────────────────────────────

type mockUsers struct {
	resp *models.AuthResponse
	err  error
	got  models.CreateUserBody
}

func (m *mockUsers) Login(_ context.Context, email, password string) (*models.AuthResponse, error) {
	m.got = models.CreateUserBody{Email: email, Password: password}
	return m.resp, m.err
}

func (m *mockUsers) Register(_ context.Context, body models.CreateUserBody) (*models.AuthResponse, error) {
	m.got = body
	return m.resp, m.err
}

type mockSessions struct {
	issued  *models.AuthResponse
	revoked string
	err     error
}

func (m *mockSessions) Issue(_ context.Context, a *models.AuthResponse) (string, *models.Session, error) {
	if m.err != nil {
		return "", nil, m.err
	}
	m.issued = a
	s := testSession()
	s.User = a.User
	return testRawToken, s, nil
}

func (m *mockSessions) Revoke(_ context.Context, raw string) error {
	m.revoked = raw
	return nil
}

type mockPageCloser struct{ closed []string }

func (m *mockPageCloser) Close(sessionID string) { m.closed = append(m.closed, sessionID) }

// ─── tests ───────────────────────────────────────────────────────────────────

func TestLogin_IssuesGatewayToken(t *testing.T) {
	users := &mockUsers{resp: &models.AuthResponse{AccessToken: "up-1", User: models.User{Name: "Ann"}}}
	sessions := &mockSessions{}
	h := handler.NewLoginHandler(users, sessions)

	req := httptest.NewRequest("POST", "/api/v1/auth/login",
		jsonBody(t, map[string]string{"email": "ann@example.com", "password": "pw"}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, testRawToken, data["token"])
	assert.Equal(t, "Ann", data["user"].(map[string]any)["name"])
	assert.Equal(t, "ann@example.com", users.got.Email)
	assert.Equal(t, "up-1", sessions.issued.AccessToken)
}

func TestLogin_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: email required", detection.ErrValidation), http.StatusBadRequest, "INVALID_REQUEST"},
		{fmt.Errorf("%w: 401", auth.ErrUnauthorized), http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{auth.ErrNoToken, http.StatusBadGateway, "UPSTREAM_INVALID_RESPONSE"},
		{fmt.Errorf("%w: refused", detection.ErrNetwork), http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := handler.NewLoginHandler(&mockUsers{err: tt.err}, &mockSessions{})

			req := httptest.NewRequest("POST", "/api/v1/auth/login",
				jsonBody(t, map[string]string{"email": "a", "password": "b"}))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errCode(t, w))
		})
	}
}

func TestLogin_InvalidJSON(t *testing.T) {
	h := handler.NewLoginHandler(&mockUsers{}, &mockSessions{})

	req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, w))
}

func TestLogin_SessionStoreFailure(t *testing.T) {
	users := &mockUsers{resp: &models.AuthResponse{AccessToken: "up-1"}}
	h := handler.NewLoginHandler(users, &mockSessions{err: fmt.Errorf("redis down")})

	req := httptest.NewRequest("POST", "/api/v1/auth/login",
		jsonBody(t, map[string]string{"email": "a", "password": "b"}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRegister_Created(t *testing.T) {
	users := &mockUsers{resp: &models.AuthResponse{AccessToken: "up-2", User: models.User{Name: "Bob"}}}
	h := handler.NewRegisterHandler(users, &mockSessions{})

	req := httptest.NewRequest("POST", "/api/v1/auth/register",
		jsonBody(t, models.CreateUserBody{Name: "Bob", Email: "bob@example.com", Password: "pw"}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Bob", users.got.Name)
	assert.Equal(t, testRawToken, decodeData(t, w)["token"])
}

func TestLogout_ClosesPageAndRevokes(t *testing.T) {
	sessions := &mockSessions{}
	pages := &mockPageCloser{}
	h := handler.NewLogoutHandler(sessions, pages)

	// Run through the real middleware so the raw token lands in the context.
	lookup := lookupFunc(func(_ context.Context, raw string) (*models.Session, error) {
		if raw != testRawToken {
			return nil, auth.ErrUnauthorized
		}
		return testSession(), nil
	})
	chain := mw.NewAuth(lookup).Authenticate(h)

	req := httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+testRawToken)
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"sess-1"}, pages.closed)
	assert.Equal(t, testRawToken, sessions.revoked)
}

func TestMe(t *testing.T) {
	h := handler.NewMeHandler()

	req := authed(httptest.NewRequest("GET", "/api/v1/auth/me", nil))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	user := decodeData(t, w)["user"].(map[string]any)
	assert.Equal(t, "ann@example.com", user["email"])

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type lookupFunc func(ctx context.Context, raw string) (*models.Session, error)

func (f lookupFunc) Lookup(ctx context.Context, raw string) (*models.Session, error) {
	return f(ctx, raw)
}
