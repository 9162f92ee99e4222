package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/anomalyreport/internal/store"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMulti_DeliversToAllInOrder(t *testing.T) {
	var order []string
	a := Func(func(models.Notification) { order = append(order, "a") })
	b := Func(func(models.Notification) { order = append(order, "b") })

	Multi{a, nil, b}.Notify(models.Notification{Kind: models.NotifyInfo})

	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Notify(models.Notification{JobID: "1", Kind: models.NotifySuccess})
	r.Notify(models.Notification{JobID: "2", Kind: models.NotifyError})

	assert.Equal(t, []models.NotificationKind{models.NotifySuccess, models.NotifyError}, r.Kinds())
	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, models.JobID("2"), all[1].JobID)

	r.Reset()
	assert.Empty(t, r.All())
}

// --- History ---

type fakeStatusWriter struct {
	mu      sync.Mutex
	updates map[models.JobID]models.JobStatus
	err     error
	calls   chan struct{}
}

func newFakeStatusWriter() *fakeStatusWriter {
	return &fakeStatusWriter{updates: make(map[models.JobID]models.JobStatus), calls: make(chan struct{}, 16)}
}

func (f *fakeStatusWriter) UpdateSubmissionStatus(_ context.Context, jobID models.JobID, status models.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[jobID] = status
	f.calls <- struct{}{}
	return f.err
}

func (f *fakeStatusWriter) get(id models.JobID) (models.JobStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.updates[id]
	return s, ok
}

func TestHistory_RecordsTerminalStatusesOnly(t *testing.T) {
	w := newFakeStatusWriter()
	h := NewHistory(w, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	h.Notify(models.Notification{JobID: "1", Kind: models.NotifyInfo, Message: "Job cancel requested"})
	h.Notify(models.Notification{JobID: "2", Kind: models.NotifySuccess, Status: models.StatusSuccess})

	select {
	case <-w.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("history did not write")
	}

	status, ok := w.get("2")
	assert.True(t, ok)
	assert.Equal(t, models.StatusSuccess, status)

	_, ok = w.get("1")
	assert.False(t, ok, "notifications without a status are not recorded")
}

func TestHistory_StoreErrorsDoNotStopWorker(t *testing.T) {
	w := newFakeStatusWriter()
	w.err = store.ErrNotFound
	h := NewHistory(w, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	h.Notify(models.Notification{JobID: "1", Status: models.StatusError})
	<-w.calls

	w.mu.Lock()
	w.err = errors.New("connection reset")
	w.mu.Unlock()

	h.Notify(models.Notification{JobID: "2", Status: models.StatusCanceled})
	select {
	case <-w.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after an error")
	}
}

func TestHistory_DropsWhenQueueFull(t *testing.T) {
	w := newFakeStatusWriter()
	h := NewHistory(w, discardLogger())

	// No worker running: Notify must still return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(h.queue)+10; i++ {
			h.Notify(models.Notification{JobID: "1", Status: models.StatusSuccess})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	assert.Len(t, h.queue, cap(h.queue))
}
