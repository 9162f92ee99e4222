// Package report holds the server-side report view model: the latest result
// of a job, its loading flags, the expanded anomaly panels and the poll
// session that keeps the result fresh.
package report

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/kiranshivaraju/anomalyreport/internal/detection"
	"github.com/kiranshivaraju/anomalyreport/internal/notify"
	"github.com/kiranshivaraju/anomalyreport/internal/poller"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

var (
	ErrNotMounted       = errors.New("report view is not mounted")
	ErrCancelInProgress = errors.New("cancel already in progress")
	ErrNoResult         = errors.New("report has no result yet")
	ErrUnknownJob       = errors.New("job is not part of the report")
	ErrNotExportable    = errors.New("report cannot be exported")
)

// Notification messages.
const (
	msgSuccess      = "File processed successfully"
	msgError        = "File processing failed"
	msgCanceled     = "File processing canceled"
	msgFetchFailed  = "Failed to load report data"
	msgCancelFailed = "Failed to cancel file processing"
)

// Backend is what a view needs from the detection service.
type Backend interface {
	detection.ResultFetcher
	detection.Canceller
}

// View is the view model of one report. All methods are safe for concurrent use.
type View struct {
	backend         Backend
	notifier        notify.Notifier
	poller          *poller.Poller
	sessionID       string
	refetchOnCancel bool
	loc             *time.Location
	now             func() time.Time
	logger          *slog.Logger

	// opMu serializes Mount, ChangeJob, Unmount and cancel-triggered restarts.
	opMu sync.Mutex

	mu                 sync.Mutex
	mounted            bool
	epoch              uint64
	jobID              models.JobID
	result             *models.JobResult
	isLoading          bool
	isLoadingInitially bool
	isCancelLoading    bool
	lastErr            string
	selection          *Selection
}

// Option customizes a View.
type Option func(*viewOptions)

type viewOptions struct {
	sessionID       string
	refetchOnCancel bool
	loc             *time.Location
	logger          *slog.Logger
	pollerOpts      []poller.Option
}

// WithSessionID tags notifications with the owning session.
func WithSessionID(id string) Option {
	return func(o *viewOptions) { o.sessionID = id }
}

// WithRefetchOnCancel restarts the poll session with an immediate fetch
// after a successful cancel.
func WithRefetchOnCancel(enabled bool) Option {
	return func(o *viewOptions) { o.refetchOnCancel = enabled }
}

// WithLocation sets the time zone used for STREAM timestamps.
func WithLocation(loc *time.Location) Option {
	return func(o *viewOptions) { o.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *viewOptions) { o.logger = l }
}

// WithPollerOptions passes options through to the view's poller.
func WithPollerOptions(opts ...poller.Option) Option {
	return func(o *viewOptions) { o.pollerOpts = append(o.pollerOpts, opts...) }
}

// NewView creates an unmounted view.
func NewView(backend Backend, notifier notify.Notifier, opts ...Option) *View {
	o := viewOptions{loc: time.UTC, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}

	v := &View{
		backend:         backend,
		notifier:        notifier,
		sessionID:       o.sessionID,
		refetchOnCancel: o.refetchOnCancel,
		loc:             o.loc,
		now:             time.Now,
		logger:          o.logger,
		selection:       NewSelection(),
	}
	pollerOpts := append([]poller.Option{poller.WithLogger(o.logger)}, o.pollerOpts...)
	v.poller = poller.New(backend, v.onUpdate, pollerOpts...)
	return v
}

// Mount shows jobID: it clears the selection and starts polling.
func (v *View) Mount(ctx context.Context, jobID models.JobID) {
	v.opMu.Lock()
	defer v.opMu.Unlock()
	v.startLocked(ctx, jobID)
}

// ChangeJob re-targets a mounted view. The previous poll session is torn
// down before the new one starts; changing to the current job is a no-op.
func (v *View) ChangeJob(ctx context.Context, jobID models.JobID) {
	v.opMu.Lock()
	defer v.opMu.Unlock()

	v.mu.Lock()
	same := v.mounted && v.jobID == jobID
	v.mu.Unlock()
	if same {
		return
	}
	v.startLocked(ctx, jobID)
}

// startLocked must be called with opMu held.
func (v *View) startLocked(ctx context.Context, jobID models.JobID) {
	// After Stop returns no update of the old session can reach onUpdate.
	v.poller.Stop()

	v.mu.Lock()
	v.mounted = true
	v.epoch++
	v.jobID = jobID
	v.result = nil
	v.isLoading = true
	v.isLoadingInitially = true
	v.isCancelLoading = false
	v.lastErr = ""
	v.selection.Clear()
	v.mu.Unlock()

	v.poller.Start(ctx, jobID)
}

// Unmount stops polling and discards the result.
func (v *View) Unmount() {
	v.opMu.Lock()
	defer v.opMu.Unlock()

	v.poller.Close()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.mounted = false
	v.epoch++
	v.jobID = ""
	v.result = nil
	v.isLoading = false
	v.isLoadingInitially = false
	v.isCancelLoading = false
	v.lastErr = ""
	v.selection.Clear()
}

// JobID returns the job the view shows.
func (v *View) JobID() models.JobID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.jobID
}

// Selection returns the view's panel selection.
func (v *View) Selection() *Selection {
	return v.selection
}

// onUpdate runs with the poller lock held.
func (v *View) onUpdate(u poller.Update) {
	v.mu.Lock()
	if !v.mounted || v.jobID != u.JobID {
		v.mu.Unlock()
		return
	}

	v.isLoadingInitially = false
	var n *models.Notification

	if u.Err != nil {
		v.isLoading = false
		v.lastErr = u.Err.Error()
		n = v.notification(u.JobID, models.NotifyError, msgFetchFailed, "")
	} else {
		v.result = u.Result
		switch u.Result.Status {
		case models.StatusSuccess:
			v.isLoading = false
			n = v.notification(u.JobID, models.NotifySuccess, msgSuccess, u.Result.Status)
		case models.StatusError:
			v.isLoading = false
			n = v.notification(u.JobID, models.NotifyError, msgError, u.Result.Status)
		case models.StatusCanceled:
			v.isLoading = false
			n = v.notification(u.JobID, models.NotifyInfo, msgCanceled, u.Result.Status)
		}
	}
	v.mu.Unlock()

	if n != nil {
		v.notifier.Notify(*n)
	}
}

// Cancel asks the backend to stop the current job. The cancel itself does
// not change the displayed status; the next poll does.
func (v *View) Cancel(ctx context.Context) error {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return ErrNotMounted
	}
	if v.isCancelLoading {
		v.mu.Unlock()
		return ErrCancelInProgress
	}
	jobID, epoch := v.jobID, v.epoch
	v.isCancelLoading = true
	v.mu.Unlock()

	err := v.backend.Cancel(ctx, jobID)

	v.mu.Lock()
	current := v.epoch == epoch
	if current {
		v.isCancelLoading = false
	}
	v.mu.Unlock()

	if err != nil {
		v.logger.Warn("cancel failed", "job_id", jobID, "error", err)
		v.notifier.Notify(*v.notification(jobID, models.NotifyError, msgCancelFailed, ""))
		return err
	}

	v.notifier.Notify(*v.notification(jobID, models.NotifyInfo, msgCanceled, ""))

	if v.refetchOnCancel && current {
		v.refetch(ctx, jobID, epoch)
	}
	return nil
}

// refetch restarts a still-polling session so the cancel shows up without
// waiting for the next interval.
func (v *View) refetch(ctx context.Context, jobID models.JobID, epoch uint64) {
	v.opMu.Lock()
	defer v.opMu.Unlock()

	v.mu.Lock()
	current := v.mounted && v.epoch == epoch
	v.mu.Unlock()
	if !current {
		return
	}

	st := v.poller.Status()
	if st.State != poller.StatePolling || st.JobID != jobID {
		return
	}
	v.poller.Start(ctx, jobID)
}

func (v *View) notification(jobID models.JobID, kind models.NotificationKind, msg string, status models.JobStatus) *models.Notification {
	return &models.Notification{
		SessionID: v.sessionID,
		JobID:     jobID,
		Kind:      kind,
		Message:   msg,
		Status:    status,
		At:        v.now().UTC(),
	}
}

// Item is one anomaly as rendered in the report.
type Item struct {
	Key        string              `json:"key"`
	Timestamp  int64               `json:"ts"`
	Time       string              `json:"time"`
	TreeTitle  string              `json:"tree_title"`
	Label      string              `json:"label"`
	Class      models.AnomalyClass `json:"class"`
	ClassLabel string              `json:"class_label"`
	Links      []string            `json:"links"`
	Selected   bool                `json:"selected"`
}

// Snapshot is a copy of the view state for rendering.
type Snapshot struct {
	JobID              models.JobID      `json:"job_id"`
	Result             *models.JobResult `json:"result"`
	TypeLabel          string            `json:"type_label,omitempty"`
	StatusLabel        string            `json:"status_label,omitempty"`
	Items              []Item            `json:"items"`
	Selected           []string          `json:"selected"`
	IsLoading          bool              `json:"is_loading"`
	IsLoadingInitially bool              `json:"is_loading_initially"`
	IsCancelLoading    bool              `json:"is_cancel_loading"`
	PollState          string            `json:"poll_state"`
	Error              string            `json:"error,omitempty"`
	CanCancel          bool              `json:"can_cancel"`
	CanExport          bool              `json:"can_export"`
	ShowChart          bool              `json:"show_chart"`
	ReportPath         string            `json:"report_path"`
}

// Snapshot returns the current state of the view.
func (v *View) Snapshot() Snapshot {
	st := v.poller.Status()

	v.mu.Lock()
	defer v.mu.Unlock()

	s := Snapshot{
		JobID:              v.jobID,
		Result:             v.result.Clone(),
		Items:              []Item{},
		Selected:           v.selection.IDs(),
		IsLoading:          v.isLoading,
		IsLoadingInitially: v.isLoadingInitially,
		IsCancelLoading:    v.isCancelLoading,
		PollState:          st.State.String(),
		Error:              v.lastErr,
		CanCancel:          v.mounted && v.isLoading,
	}
	if v.jobID != "" {
		s.ReportPath = "/report/" + v.jobID.String()
	}
	if v.result == nil {
		return s
	}

	s.TypeLabel = TypeLabel(v.result.Type)
	s.StatusLabel = StatusLabel(v.result.Status)
	s.CanExport = v.canExportLocked()
	s.ShowChart = v.result.Status == models.StatusSuccess

	for i, a := range s.Result.Anomalies {
		key := strconv.Itoa(i)
		s.Items = append(s.Items, Item{
			Key:        key,
			Timestamp:  a.Timestamp,
			Time:       FormatTime(v.result.Type, a.Timestamp, v.loc),
			TreeTitle:  TreeTitle(v.result.Type, a.Timestamp, v.loc),
			Label:      ItemLabel(v.result.Type, a, v.loc),
			Class:      a.Class,
			ClassLabel: a.Class.Label(),
			Links:      a.Links,
			Selected:   v.selection.Contains(key),
		})
	}
	return s
}

func (v *View) canExportLocked() bool {
	if v.result == nil || v.isLoading {
		return false
	}
	return v.result.Status == models.StatusSuccess || v.result.Status == models.StatusCanceled
}

// current returns the job and its latest result.
func (v *View) current() (models.JobID, *models.JobResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.jobID, v.result
}
