package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/anomalyreport/internal/cache"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// The session key is the token prefix: "ar_" plus 128 bits of hex.
const (
	tokenPrefix    = "ar_"
	tokenPrefixLen = len(tokenPrefix) + 32
	tokenBytes     = 32

	maxIssueAttempts = 3
)

// ErrTokenCollision is returned when no unused session key could be found.
var ErrTokenCollision = errors.New("could not allocate a unique session token")

// Sessions issues and resolves gateway tokens.
type Sessions struct {
	cache    cache.Cache
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
}

// NewSessions creates a session store backed by c.
func NewSessions(c cache.Cache, ttl time.Duration) *Sessions {
	return &Sessions{cache: c, ttl: ttl, now: time.Now, newToken: generateToken}
}

// Issue creates a session for an upstream login and returns the raw gateway
// token. The token is not recoverable afterwards. A live session is never
// overwritten: on a key collision a new token is drawn.
func (s *Sessions) Issue(ctx context.Context, auth *models.AuthResponse) (string, *models.Session, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		raw, sess, stored, err := s.tryIssue(ctx, auth)
		if err != nil {
			return "", nil, err
		}
		if stored {
			return raw, sess, nil
		}
	}
	return "", nil, ErrTokenCollision
}

func (s *Sessions) tryIssue(ctx context.Context, auth *models.AuthResponse) (string, *models.Session, bool, error) {
	raw, err := s.newToken()
	if err != nil {
		return "", nil, false, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, false, fmt.Errorf("hashing token: %w", err)
	}

	now := s.now().UTC()
	sess := &models.Session{
		ID:          uuid.NewString(),
		TokenHash:   string(hash),
		TokenPrefix: raw[:tokenPrefixLen],
		AccessToken: auth.AccessToken,
		User:        auth.User,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	b, err := json.Marshal(sess)
	if err != nil {
		return "", nil, false, fmt.Errorf("encoding session: %w", err)
	}
	stored, err := s.cache.SetNX(ctx, cache.SessionKey(sess.TokenPrefix), b, s.ttl)
	if err != nil {
		return "", nil, false, fmt.Errorf("storing session: %w", err)
	}
	return raw, sess, stored, nil
}

// Lookup resolves a raw gateway token. Unknown, expired or mismatching
// tokens yield ErrUnauthorized.
func (s *Sessions) Lookup(ctx context.Context, raw string) (*models.Session, error) {
	if !strings.HasPrefix(raw, tokenPrefix) || len(raw) <= tokenPrefixLen {
		return nil, ErrUnauthorized
	}

	b, ok, err := s.cache.Get(ctx, cache.SessionKey(raw[:tokenPrefixLen]))
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if !ok {
		return nil, ErrUnauthorized
	}

	var sess models.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(sess.TokenHash), []byte(raw)) != nil {
		return nil, ErrUnauthorized
	}
	if !s.now().Before(sess.ExpiresAt) {
		return nil, ErrUnauthorized
	}
	return &sess, nil
}

// Revoke deletes the session of a raw gateway token.
func (s *Sessions) Revoke(ctx context.Context, raw string) error {
	sess, err := s.Lookup(ctx, raw)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cache.SessionKey(sess.TokenPrefix))
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(b), nil
}
