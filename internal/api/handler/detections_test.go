package handler_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kiranshivaraju/anomalyreport/internal/api/handler"
	"github.com/kiranshivaraju/anomalyreport/internal/detection"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mocks ───────────────────────────────────────────────────────────────────

type mockSubmitter struct {
	mu       sync.Mutex
	source   string
	filename string
	content  string
	model    models.ModelType
	ids      []models.JobID
	err      error
}

func (m *mockSubmitter) SubmitStream(_ context.Context, source string, model models.ModelType) (models.JobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source, m.model = source, model
	if m.err != nil {
		return "", m.err
	}
	return m.ids[0], nil
}

func (m *mockSubmitter) SubmitVideo(_ context.Context, filename string, r io.Reader, model models.ModelType) (models.JobID, error) {
	ids, err := m.upload(filename, r, model)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (m *mockSubmitter) SubmitArchive(_ context.Context, filename string, r io.Reader, model models.ModelType) ([]models.JobID, error) {
	return m.upload(filename, r, model)
}

func (m *mockSubmitter) upload(filename string, r io.Reader, model models.ModelType) ([]models.JobID, error) {
	b, _ := io.ReadAll(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filename, m.content, m.model = filename, string(b), model
	if m.err != nil {
		return nil, m.err
	}
	return m.ids, nil
}

type mockSubmissionStore struct {
	created   []*models.Submission
	createErr error
	listEmail string
	listLimit int
	list      []*models.Submission
}

func (m *mockSubmissionStore) CreateSubmission(_ context.Context, sub *models.Submission) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, sub)
	return nil
}

func (m *mockSubmissionStore) ListSubmissions(_ context.Context, email string, limit int) ([]*models.Submission, error) {
	m.listEmail, m.listLimit = email, limit
	return m.list, nil
}

func multipartRequest(t *testing.T, path, filename, content, model string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mpw.CreateFormFile("source", filename)
		require.NoError(t, err)
		part.Write([]byte(content))
	}
	if model != "" {
		require.NoError(t, mpw.WriteField("model", model))
	}
	require.NoError(t, mpw.Close())

	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	return authed(req)
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestSubmitStream_RecordsSubmission(t *testing.T) {
	sub := &mockSubmitter{ids: []models.JobID{"101"}}
	st := &mockSubmissionStore{}
	d := handler.NewDetections(sub, st, nil)

	req := authed(httptest.NewRequest("POST", "/api/v1/detections/stream",
		jsonBody(t, map[string]string{"source": "rtsp://cam/1", "model": "rgb"})))
	w := httptest.NewRecorder()
	d.SubmitStream(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []any{"101"}, decodeData(t, w)["job_ids"])
	assert.Equal(t, "rtsp://cam/1", sub.source)
	assert.Equal(t, models.ModelRGB, sub.model)

	require.Len(t, st.created, 1)
	assert.Equal(t, models.JobID("101"), st.created[0].JobID)
	assert.Equal(t, "ann@example.com", st.created[0].UserEmail)
	assert.Equal(t, models.JobTypeStream, st.created[0].Type)
}

func TestSubmitStream_InvalidModel(t *testing.T) {
	d := handler.NewDetections(&mockSubmitter{}, &mockSubmissionStore{}, nil)

	req := authed(httptest.NewRequest("POST", "/api/v1/detections/stream",
		jsonBody(t, map[string]string{"source": "rtsp://cam/1", "model": "XRAY"})))
	w := httptest.NewRecorder()
	d.SubmitStream(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, w))
}

func TestSubmitStream_UpstreamErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: must be rtsp", detection.ErrValidation), http.StatusBadRequest, "INVALID_REQUEST"},
		{fmt.Errorf("%w: status 503", detection.ErrNetwork), http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},
		{fmt.Errorf("%w: missing id", detection.ErrDecode), http.StatusBadGateway, "UPSTREAM_INVALID_RESPONSE"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			st := &mockSubmissionStore{}
			d := handler.NewDetections(&mockSubmitter{err: tt.err}, st, nil)

			req := authed(httptest.NewRequest("POST", "/api/v1/detections/stream",
				jsonBody(t, map[string]string{"source": "http://x"})))
			w := httptest.NewRecorder()
			d.SubmitStream(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errCode(t, w))
			assert.Empty(t, st.created)
		})
	}
}

func TestSubmitStream_StoreFailureStillAccepted(t *testing.T) {
	st := &mockSubmissionStore{createErr: errors.New("db down")}
	d := handler.NewDetections(&mockSubmitter{ids: []models.JobID{"7"}}, st, nil)

	req := authed(httptest.NewRequest("POST", "/api/v1/detections/stream",
		jsonBody(t, map[string]string{"source": "rtsp://cam/1"})))
	w := httptest.NewRecorder()
	d.SubmitStream(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestSubmitVideo_ForwardsFile(t *testing.T) {
	sub := &mockSubmitter{ids: []models.JobID{"55"}}
	st := &mockSubmissionStore{}
	d := handler.NewDetections(sub, st, nil)

	w := httptest.NewRecorder()
	d.SubmitVideo(w, multipartRequest(t, "/api/v1/detections/video", "clip.mp4", "frames", "BYTES"))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "clip.mp4", sub.filename)
	assert.Equal(t, "frames", sub.content)
	assert.Equal(t, models.ModelBytes, sub.model)
	require.Len(t, st.created, 1)
	assert.Equal(t, "clip.mp4", st.created[0].Source)
	assert.Equal(t, models.JobTypeVideo, st.created[0].Type)
}

func TestSubmitVideo_MissingFile(t *testing.T) {
	d := handler.NewDetections(&mockSubmitter{}, &mockSubmissionStore{}, nil)

	w := httptest.NewRecorder()
	d.SubmitVideo(w, multipartRequest(t, "/api/v1/detections/video", "", "", "RGB"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitVideo_TooLarge(t *testing.T) {
	sub := &mockSubmitter{ids: []models.JobID{"1"}}
	d := handler.NewDetections(sub, &mockSubmissionStore{}, nil, handler.WithMaxUploadBytes(1024))

	w := httptest.NewRecorder()
	d.SubmitVideo(w, multipartRequest(t, "/api/v1/detections/video", "clip.mp4", strings.Repeat("x", 8192), "RGB"))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", errCode(t, w))
	assert.Empty(t, sub.filename)
}

func TestSubmitArchive_WithinLimit(t *testing.T) {
	sub := &mockSubmitter{ids: []models.JobID{"1", "2"}}
	d := handler.NewDetections(sub, &mockSubmissionStore{}, nil, handler.WithMaxUploadBytes(4096))

	w := httptest.NewRecorder()
	d.SubmitArchive(w, multipartRequest(t, "/api/v1/detections/archive", "batch.zip", "PK", ""))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "PK", sub.content)
}

func TestSubmitVideo_NotMultipart(t *testing.T) {
	d := handler.NewDetections(&mockSubmitter{}, &mockSubmissionStore{}, nil)

	req := authed(httptest.NewRequest("POST", "/api/v1/detections/video", bytes.NewBufferString("{}")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	d.SubmitVideo(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitArchive_RecordsEveryJob(t *testing.T) {
	sub := &mockSubmitter{ids: []models.JobID{"1", "2", "3"}}
	st := &mockSubmissionStore{}
	d := handler.NewDetections(sub, st, nil)

	w := httptest.NewRecorder()
	d.SubmitArchive(w, multipartRequest(t, "/api/v1/detections/archive", "batch.zip", "PK", ""))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []any{"1", "2", "3"}, decodeData(t, w)["job_ids"])
	assert.Len(t, st.created, 3)
	assert.Equal(t, models.ModelType(""), sub.model)
}

func TestListSubmissions(t *testing.T) {
	st := &mockSubmissionStore{list: []*models.Submission{{JobID: "9", Type: models.JobTypeVideo}}}
	d := handler.NewDetections(&mockSubmitter{}, st, nil)

	w := httptest.NewRecorder()
	d.List(w, authed(httptest.NewRequest("GET", "/api/v1/detections?limit=5", nil)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ann@example.com", st.listEmail)
	assert.Equal(t, 5, st.listLimit)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = httptest.NewRecorder()
	d.List(w, authed(httptest.NewRequest("GET", "/api/v1/detections", nil)))
	assert.Equal(t, 20, st.listLimit)

	w = httptest.NewRecorder()
	d.List(w, authed(httptest.NewRequest("GET", "/api/v1/detections?limit=1000", nil)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
