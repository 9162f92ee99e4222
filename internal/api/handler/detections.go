package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	mw "github.com/kiranshivaraju/anomalyreport/internal/api/middleware"
	"github.com/kiranshivaraju/anomalyreport/internal/api/response"
	"github.com/kiranshivaraju/anomalyreport/internal/detection"
	"github.com/kiranshivaraju/anomalyreport/internal/metrics"
	"github.com/kiranshivaraju/anomalyreport/internal/store"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

// maxUploadMemory is how much of a multipart upload is buffered in memory;
// the rest spills to temporary files.
const maxUploadMemory = 32 << 20

// DefaultMaxUploadBytes caps the whole multipart request body.
const DefaultMaxUploadBytes = 512 << 20

// SubmissionStore records and lists submissions.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub *models.Submission) error
	ListSubmissions(ctx context.Context, userEmail string, limit int) ([]*models.Submission, error)
}

type submitResponse struct {
	JobIDs []models.JobID `json:"job_ids"`
}

// Detections serves the submission endpoints.
type Detections struct {
	client         detection.Submitter
	store          SubmissionStore
	logger         *slog.Logger
	maxUploadBytes int64
}

// DetectionsOption customizes the submission handlers.
type DetectionsOption func(*Detections)

// WithMaxUploadBytes caps the size of an upload request body.
func WithMaxUploadBytes(n int64) DetectionsOption {
	return func(d *Detections) {
		if n > 0 {
			d.maxUploadBytes = n
		}
	}
}

// NewDetections creates the submission handlers.
func NewDetections(client detection.Submitter, s SubmissionStore, logger *slog.Logger, opts ...DetectionsOption) *Detections {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detections{client: client, store: s, logger: logger, maxUploadBytes: DefaultMaxUploadBytes}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SubmitStream handles POST /api/v1/detections/stream.
func (d *Detections) SubmitStream(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
		Model  string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}

	model, err := models.ParseModelType(req.Model)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	id, err := d.client.SubmitStream(r.Context(), req.Source, model)
	if err != nil {
		writeError(w, err)
		return
	}

	ids := []models.JobID{id}
	d.record(r, ids, models.JobTypeStream, model, req.Source)
	response.Accepted(w, submitResponse{JobIDs: ids})
}

// SubmitVideo handles POST /api/v1/detections/video.
func (d *Detections) SubmitVideo(w http.ResponseWriter, r *http.Request) {
	d.upload(w, r, func(ctx context.Context, filename string, body io.Reader, model models.ModelType) ([]models.JobID, error) {
		id, err := d.client.SubmitVideo(ctx, filename, body, model)
		if err != nil {
			return nil, err
		}
		return []models.JobID{id}, nil
	})
}

// SubmitArchive handles POST /api/v1/detections/archive.
func (d *Detections) SubmitArchive(w http.ResponseWriter, r *http.Request) {
	d.upload(w, r, d.client.SubmitArchive)
}

type uploadFunc func(ctx context.Context, filename string, body io.Reader, model models.ModelType) ([]models.JobID, error)

// upload reads a multipart form with a "source" file and an optional
// "model" field and forwards it upstream.
func (d *Detections) upload(w http.ResponseWriter, r *http.Request, submit uploadFunc) {
	r.Body = http.MaxBytesReader(w, r.Body, d.maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit), nil)
			return
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart form", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("source")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "source file is required", nil)
		return
	}
	defer file.Close()

	model, err := models.ParseModelType(r.FormValue("model"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	ids, err := submit(r.Context(), header.Filename, file, model)
	if err != nil {
		writeError(w, err)
		return
	}

	d.record(r, ids, models.JobTypeVideo, model, header.Filename)
	response.Accepted(w, submitResponse{JobIDs: ids})
}

// record stores the submissions for the history listing. The upstream job
// already exists, so failures are logged and not returned.
func (d *Detections) record(r *http.Request, ids []models.JobID, jobType models.JobType, model models.ModelType, source string) {
	metrics.RecordSubmission(string(jobType), len(ids))

	sess, ok := mw.GetSession(r)
	if !ok || d.store == nil {
		return
	}
	for _, id := range ids {
		sub := &models.Submission{
			JobID:     id,
			UserEmail: sess.User.Email,
			Type:      jobType,
			Model:     model,
			Source:    source,
		}
		if err := d.store.CreateSubmission(r.Context(), sub); err != nil {
			d.logger.Warn("recording submission failed", "job_id", id, "error", err)
		}
	}
}

// List handles GET /api/v1/detections.
func (d *Detections) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := mw.GetSession(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing session", nil)
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	subs, err := d.store.ListSubmissions(r.Context(), sess.User.Email, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	response.Collection(w, subs, response.ListMeta{Limit: limit, Count: len(subs)})
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return store.DefaultListLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > store.MaxListLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", store.MaxListLimit)
	}
	return n, nil
}
