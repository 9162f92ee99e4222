package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/anomalyreport/internal/api/middleware"
	"github.com/kiranshivaraju/anomalyreport/internal/api/response"
	"github.com/kiranshivaraju/anomalyreport/internal/report"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

// ReportPages keeps one report page per session.
type ReportPages interface {
	Open(ctx context.Context, sessionID string, expiresAt time.Time, ids []models.JobID) *report.Page
	Page(sessionID string) (*report.Page, bool)
	Close(sessionID string)
}

// EventStream upgrades a request to a notification stream for a session.
type EventStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request, sessionID string)
}

// Reports serves the report page endpoints.
type Reports struct {
	pages  ReportPages
	events EventStream
}

// NewReports creates the report handlers.
func NewReports(pages ReportPages, events EventStream) *Reports {
	return &Reports{pages: pages, events: events}
}

type pageResponse struct {
	JobIDs  []models.JobID    `json:"job_ids"`
	Reports []report.Snapshot `json:"reports"`
}

func newPageResponse(p *report.Page) pageResponse {
	return pageResponse{JobIDs: p.JobIDs(), Reports: p.Snapshot()}
}

// Open handles PUT /api/v1/report. Ids come from the JSON body or, failing
// that, the comma-separated "ids" query parameter.
func (h *Reports) Open(w http.ResponseWriter, r *http.Request) {
	sess, ok := mw.GetSession(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing session", nil)
		return
	}

	var (
		ids []models.JobID
		err error
	)
	if q := r.URL.Query().Get("ids"); q != "" {
		ids, err = report.ParseIDList(q)
	} else {
		var req struct {
			IDs []string `json:"ids"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		ids, err = report.NormalizeIDs(req.IDs)
	}
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	p := h.pages.Open(r.Context(), sess.ID, sess.ExpiresAt, ids)
	response.JSON(w, newPageResponse(p))
}

// Get handles GET /api/v1/report.
func (h *Reports) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	response.JSON(w, newPageResponse(p))
}

// Close handles DELETE /api/v1/report.
func (h *Reports) Close(w http.ResponseWriter, r *http.Request) {
	sess, ok := mw.GetSession(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing session", nil)
		return
	}
	h.pages.Close(sess.ID)
	response.NoContent(w)
}

// Snapshot handles GET /api/v1/report/{jobID}.
func (h *Reports) Snapshot(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	response.JSON(w, v.Snapshot())
}

// Cancel handles POST /api/v1/report/{jobID}/cancel. The displayed status
// changes on a later poll.
func (h *Reports) Cancel(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	if err := v.Cancel(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	response.Accepted(w, v.Snapshot())
}

// Chart handles GET /api/v1/report/{jobID}/chart.
func (h *Reports) Chart(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	counts, err := v.Chart()
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, counts)
}

// Export handles GET /api/v1/report/{jobID}/export.csv.
func (h *Reports) Export(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := v.WriteCSV(&buf); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, report.CSVFilename(v.JobID())))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

type selectionResponse struct {
	Selected []string `json:"selected"`
}

// SetSelection handles PUT /api/v1/report/{jobID}/selection.
func (h *Reports) SetSelection(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	var req struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	v.Selection().Set(req.Keys...)
	response.JSON(w, selectionResponse{Selected: v.Selection().IDs()})
}

// ToggleSelection handles POST /api/v1/report/{jobID}/selection/toggle.
func (h *Reports) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "key is required", nil)
		return
	}
	v.Selection().Toggle(req.Key)
	response.JSON(w, selectionResponse{Selected: v.Selection().IDs()})
}

// ClearSelection handles DELETE /api/v1/report/{jobID}/selection.
func (h *Reports) ClearSelection(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	v.Selection().Clear()
	response.NoContent(w)
}

// Events handles GET /api/v1/report/events.
func (h *Reports) Events(w http.ResponseWriter, r *http.Request) {
	sess, ok := mw.GetSession(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing session", nil)
		return
	}
	h.events.ServeWS(w, r, sess.ID)
}

func (h *Reports) page(w http.ResponseWriter, r *http.Request) (*report.Page, bool) {
	sess, ok := mw.GetSession(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing session", nil)
		return nil, false
	}
	p, ok := h.pages.Page(sess.ID)
	if !ok {
		response.Error(w, http.StatusNotFound, "REPORT_NOT_OPEN", "No report is open for this session", nil)
		return nil, false
	}
	return p, true
}

func (h *Reports) view(w http.ResponseWriter, r *http.Request) (*report.View, bool) {
	p, ok := h.page(w, r)
	if !ok {
		return nil, false
	}

	id, err := models.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return nil, false
	}

	v, err := p.View(id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return v, true
}
