package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/anomalyreport/internal/circuitbreaker"
	"github.com/kiranshivaraju/anomalyreport/internal/config"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

// Sentinel errors for detection service failures.
var (
	ErrNetwork    = errors.New("detection service request failed")
	ErrDecode     = errors.New("detection service returned malformed response")
	ErrValidation = errors.New("invalid detection request")
)

// browserWarningHeader makes tunnelling proxies (ngrok) skip their HTML
// interstitial page.
const browserWarningHeader = "ngrok-skip-browser-warning"

// maxErrorBody caps how much of a failed response body ends up in an error.
const maxErrorBody = 512

// ResultFetcher retrieves the latest server-side state of a job.
type ResultFetcher interface {
	Result(ctx context.Context, id models.JobID) (*models.JobResult, error)
}

// Canceller asks the backend to stop processing a job.
type Canceller interface {
	Cancel(ctx context.Context, id models.JobID) error
}

// Submitter creates detection jobs.
type Submitter interface {
	SubmitStream(ctx context.Context, source string, model models.ModelType) (models.JobID, error)
	SubmitVideo(ctx context.Context, filename string, r io.Reader, model models.ModelType) (models.JobID, error)
	SubmitArchive(ctx context.Context, filename string, r io.Reader, model models.ModelType) ([]models.JobID, error)
}

// Client is the full detection service API.
type Client interface {
	ResultFetcher
	Canceller
	Submitter
}

// HTTPClient implements Client using the detection service's HTTP API.
type HTTPClient struct {
	cfg     config.DetectionConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.client = hc }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *HTTPClient) { c.breaker = cb }
}

// NewHTTPClient creates a new detection service client. The transport's
// timeout is the only timeout boundary.
func NewHTTPClient(cfg config.DetectionConfig, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New("detection"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Result(ctx context.Context, id models.JobID) (*models.JobResult, error) {
	u := c.jobURL(c.cfg.ResultPath, id)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	var result models.JobResult
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}

	if !result.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown job type %q", ErrDecode, result.Type)
	}
	if !result.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown job status %q", ErrDecode, result.Status)
	}
	if result.Anomalies == nil {
		result.Anomalies = []models.Anomaly{}
	}

	return &result, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, id models.JobID) error {
	u := c.jobURL(c.cfg.CancelPath, id)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	return c.do(httpReq, nil)
}

func (c *HTTPClient) SubmitStream(ctx context.Context, source string, model models.ModelType) (models.JobID, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", fmt.Errorf("%w: stream source is required", ErrValidation)
	}
	if !strings.HasPrefix(source, "rtsp://") {
		return "", fmt.Errorf("%w: stream source must be an rtsp:// url", ErrValidation)
	}
	if err := validateModel(model); err != nil {
		return "", err
	}

	body := struct {
		Source string           `json:"source"`
		Model  models.ModelType `json:"model,omitempty"`
	}{Source: source, Model: model}

	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.StreamPath, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp models.SubmitResponse
	if err := c.do(httpReq, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: missing job id", ErrDecode)
	}
	return resp.ID, nil
}

func (c *HTTPClient) SubmitVideo(ctx context.Context, filename string, r io.Reader, model models.ModelType) (models.JobID, error) {
	if err := validateUpload(filename, r, model); err != nil {
		return "", err
	}

	var resp models.SubmitResponse
	if err := c.upload(ctx, c.cfg.VideoPath, filename, r, model, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: missing job id", ErrDecode)
	}
	return resp.ID, nil
}

func (c *HTTPClient) SubmitArchive(ctx context.Context, filename string, r io.Reader, model models.ModelType) ([]models.JobID, error) {
	if err := validateUpload(filename, r, model); err != nil {
		return nil, err
	}
	if !strings.EqualFold(filepath.Ext(filename), ".zip") {
		return nil, fmt.Errorf("%w: archive must be a .zip file", ErrValidation)
	}

	var resp models.SubmitArchiveResponse
	if err := c.upload(ctx, c.cfg.ArchivePath, filename, r, model, &resp); err != nil {
		return nil, err
	}
	if resp.IDs == nil {
		return nil, fmt.Errorf("%w: missing job ids", ErrDecode)
	}
	return resp.IDs, nil
}

// upload streams a multipart body with a "source" file part and an optional
// "model" field.
func (c *HTTPClient) upload(ctx context.Context, path, filename string, r io.Reader, model models.ModelType, out any) error {
	pr, pw := io.Pipe()
	defer pr.Close()

	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("source", filepath.Base(filename))
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil && model != "" {
			err = mw.WriteField("model", string(model))
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, pr)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(httpReq, out)
}

// do sends the request through the circuit breaker and decodes a 2xx body
// into out. Only transport failures and 5xx responses count against the
// breaker.
func (c *HTTPClient) do(req *http.Request, out any) error {
	c.setHeaders(req)

	var resp *http.Response
	err := c.breaker.Execute(req.Context(), func() error {
		r, err := c.client.Do(req)
		if err != nil {
			if ctxErr := req.Context().Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %w", ctxErr, err)
			}
			return classifyError(err)
		}
		if r.StatusCode >= http.StatusInternalServerError {
			defer r.Body.Close()
			return statusError(r)
		}
		resp = r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNetwork) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

func (c *HTTPClient) jobURL(path string, id models.JobID) string {
	return fmt.Sprintf("%s%s/%s", c.cfg.BaseURL, path, url.PathEscape(id.String()))
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.cfg.SkipBrowserWarning {
		req.Header.Set(browserWarningHeader, "true")
	}
	if token, ok := AccessToken(req.Context()); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func validateModel(m models.ModelType) error {
	switch m {
	case "", models.ModelRGB, models.ModelBytes:
		return nil
	}
	return fmt.Errorf("%w: unknown model %q", ErrValidation, m)
}

func validateUpload(filename string, r io.Reader, model models.ModelType) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("%w: file name is required", ErrValidation)
	}
	if r == nil {
		return fmt.Errorf("%w: file body is required", ErrValidation)
	}
	return validateModel(model)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d: %s", ErrNetwork, resp.StatusCode, msg)
}

// classifyError maps transport-level errors to ErrNetwork. The cause stays
// in the chain so the breaker can tell caller cancellation from failure.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: canceled: %w", ErrNetwork, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout: %w", ErrNetwork, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %w", ErrNetwork, err)
	}

	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
