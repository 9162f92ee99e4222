// Package poller repeatedly fetches a job's result until it reaches a
// terminal status.
//
// A Poller runs at most one poll session at a time. Each Start begins a new
// generation; every delivery to the Handler is checked against the current
// generation under the poller lock, so a fetch that was already in flight
// when the session was stopped or re-targeted can never reach the Handler.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/anomalyreport/internal/detection"
	"github.com/kiranshivaraju/anomalyreport/internal/metrics"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

// DefaultInterval is the delay between two fetches of a PROCESSING job.
const DefaultInterval = time.Second

// State is the lifecycle state of a Poller.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePolling:
		return "POLLING"
	case StateTerminal:
		return "TERMINAL"
	}
	return "UNKNOWN"
}

// Update is one delivery from a poll session: either a fetched result or
// the error that ended the session.
type Update struct {
	JobID      models.JobID
	Generation uint64
	Result     *models.JobResult
	Err        error
}

// Terminal reports whether this update ends the session.
func (u Update) Terminal() bool {
	return u.Err != nil || (u.Result != nil && u.Result.Status.IsTerminal())
}

// Handler receives updates for the current generation. It is called with the
// poller lock held and must not call back into the Poller.
type Handler func(Update)

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Status is a point-in-time view of the poller.
type Status struct {
	State      State
	JobID      models.JobID
	Generation uint64
	Fetches    int
	Failed     bool
}

// Poller drives one poll session at a time against a ResultFetcher.
type Poller struct {
	fetcher  detection.ResultFetcher
	handler  Handler
	interval time.Duration
	wait     WaitFunc
	logger   *slog.Logger

	mu      sync.Mutex
	gen     uint64
	state   State
	jobID   models.JobID
	fetches int
	failed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option customizes a Poller.
type Option func(*Poller)

// WithInterval sets the delay between fetches. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithWait replaces the timer used between fetches.
func WithWait(w WaitFunc) Option {
	return func(p *Poller) { p.wait = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// New creates an idle Poller.
func New(fetcher detection.ResultFetcher, handler Handler, opts ...Option) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		handler:  handler,
		interval: DefaultInterval,
		wait:     sleep,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins a new session for jobID, superseding any current one, and
// fetches immediately. ctx supplies request-scoped values such as the
// upstream access token; its cancellation does not stop the session.
// Start returns the new generation.
func (p *Poller) Start(ctx context.Context, jobID models.JobID) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	p.gen++
	p.state = StatePolling
	p.jobID = jobID
	p.fetches = 0
	p.failed = false

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})
	metrics.PollSessionStarted()

	go p.run(sessionCtx, p.gen, jobID, p.done)

	p.logger.Debug("poll session started", "job_id", jobID, "generation", p.gen)
	return p.gen
}

// Stop ends the current session. No update of the stopped generation is
// delivered after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.state = StateIdle
	p.jobID = ""
}

// Close stops the current session and waits for its goroutine to exit.
func (p *Poller) Close() {
	p.mu.Lock()
	done := p.done
	p.stopLocked()
	p.state = StateIdle
	p.jobID = ""
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Status returns the current state of the poller.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		State:      p.state,
		JobID:      p.jobID,
		Generation: p.gen,
		Fetches:    p.fetches,
		Failed:     p.failed,
	}
}

// stopLocked invalidates the current generation and cancels its pending
// wait or in-flight fetch.
func (p *Poller) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.gen++
	p.cancel()
	p.cancel = nil
	if p.state == StatePolling {
		metrics.PollSessionEnded()
	}
}

func (p *Poller) run(ctx context.Context, gen uint64, jobID models.JobID, done chan struct{}) {
	defer close(done)

	for {
		res, err := p.fetcher.Result(ctx, jobID)

		if !p.deliver(gen, jobID, res, err) {
			return
		}

		if err := p.wait(ctx, p.interval); err != nil {
			return
		}
	}
}

// deliver hands one fetch outcome to the handler if gen is still current.
// It reports whether the session should keep polling.
func (p *Poller) deliver(gen uint64, jobID models.JobID, res *models.JobResult, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gen != gen {
		metrics.RecordPoll("stale")
		p.logger.Debug("dropping stale poll result", "job_id", jobID, "generation", gen, "current", p.gen)
		return false
	}

	if err == nil && res == nil {
		err = fmt.Errorf("%w: empty result", detection.ErrDecode)
	}

	p.fetches++
	u := Update{JobID: jobID, Generation: gen, Result: res, Err: err}

	switch {
	case err != nil:
		p.state = StateTerminal
		p.failed = true
		metrics.RecordPoll("failed")
		metrics.PollSessionEnded()
		p.logger.Warn("poll failed, stopping", "job_id", jobID, "generation", gen, "error", err)
	case res.Status.IsTerminal():
		p.state = StateTerminal
		metrics.RecordPoll(strings.ToLower(string(res.Status)))
		metrics.PollSessionEnded()
		p.logger.Info("job reached terminal status", "job_id", jobID, "status", res.Status, "fetches", p.fetches)
	default:
		metrics.RecordPoll(strings.ToLower(string(res.Status)))
	}

	terminal := u.Terminal()
	if terminal {
		p.cancel()
		p.cancel = nil
	}

	if p.handler != nil {
		p.handler(u)
	}
	return !terminal
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
