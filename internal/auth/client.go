// Package auth talks to the upstream user service and keeps gateway sessions
// in Redis.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/anomalyreport/internal/config"
	"github.com/kiranshivaraju/anomalyreport/internal/detection"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

var (
	ErrNoToken      = errors.New("user service response has no access token")
	ErrUnauthorized = errors.New("unauthorized")
)

const maxErrorBody = 512

// Client logs users in against the upstream user service.
type Client struct {
	cfg    config.DetectionConfig
	client *http.Client
}

// NewClient creates a Client. The user service shares the detection
// service's base URL and timeout.
func NewClient(cfg config.DetectionConfig, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, client: hc}
}

// Login exchanges credentials for an upstream access token.
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", detection.ErrValidation)
	}
	return c.post(ctx, c.cfg.LoginPath, models.LoginBody{Email: email, Password: password})
}

// Register creates an upstream user and returns its access token.
func (c *Client) Register(ctx context.Context, body models.CreateUserBody) (*models.AuthResponse, error) {
	body.Name = strings.TrimSpace(body.Name)
	body.Email = strings.TrimSpace(body.Email)
	if body.Name == "" || body.Email == "" || body.Password == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", detection.ErrValidation)
	}
	return c.post(ctx, c.cfg.RegisterPath, body)
}

func (c *Client) post(ctx context.Context, path string, body any) (*models.AuthResponse, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.SkipBrowserWarning {
		req.Header.Set("ngrok-skip-browser-warning", "true")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", detection.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: user service returned %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", detection.ErrNetwork, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out models.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", detection.ErrDecode, err)
	}
	if out.AccessToken == "" {
		return nil, ErrNoToken
	}
	return &out, nil
}
