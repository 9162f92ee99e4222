// Package notify fans report notifications out to websocket clients, NATS
// and the submission history.
package notify

import (
	"sync"

	"github.com/kiranshivaraju/anomalyreport/internal/metrics"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

// Notifier receives user-visible notifications. Notify is called while a
// poller lock is held, so implementations must not block.
type Notifier interface {
	Notify(n models.Notification)
}

// Func adapts a plain function to Notifier.
type Func func(n models.Notification)

func (f Func) Notify(n models.Notification) { f(n) }

// Multi delivers every notification to each of its notifiers in order.
type Multi []Notifier

func (m Multi) Notify(n models.Notification) {
	metrics.RecordNotification(string(n.Kind))
	for _, nt := range m {
		if nt != nil {
			nt.Notify(n)
		}
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(models.Notification) {}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []models.Notification
}

func (r *Recorder) Notify(n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.items...)
}

// Kinds returns the kind of each recorded notification, in order.
func (r *Recorder) Kinds() []models.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.NotificationKind, len(r.items))
	for i, n := range r.items {
		out[i] = n.Kind
	}
	return out
}

// Reset drops all recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}
