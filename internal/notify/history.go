package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/anomalyreport/internal/store"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

// StatusWriter persists the last known status of a job.
type StatusWriter interface {
	UpdateSubmissionStatus(ctx context.Context, jobID models.JobID, status models.JobStatus) error
}

// History records terminal job statuses in the submission history. Writes
// happen on a background worker; Notify only enqueues.
type History struct {
	store   StatusWriter
	queue   chan models.Notification
	timeout time.Duration
	logger  *slog.Logger
}

// NewHistory creates a History with a bounded queue.
func NewHistory(store StatusWriter, logger *slog.Logger) *History {
	return &History{
		store:   store,
		queue:   make(chan models.Notification, 128),
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Notify enqueues notifications that carry a terminal status.
func (h *History) Notify(n models.Notification) {
	if !n.Status.IsTerminal() {
		return
	}
	select {
	case h.queue <- n:
	default:
		h.logger.Warn("history queue full, dropping status update", "job_id", n.JobID, "status", n.Status)
	}
}

// Run writes queued statuses until ctx is done.
func (h *History) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-h.queue:
			wctx, cancel := context.WithTimeout(ctx, h.timeout)
			err := h.store.UpdateSubmissionStatus(wctx, n.JobID, n.Status)
			switch {
			case errors.Is(err, store.ErrNotFound):
				// Job was submitted outside the gateway.
				h.logger.Debug("no submission for job", "job_id", n.JobID)
			case err != nil:
				h.logger.Warn("recording job status", "job_id", n.JobID, "status", n.Status, "error", err)
			}
			cancel()
		}
	}
}
