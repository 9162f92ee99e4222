package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/anomalyreport/internal/metrics"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

// MaxPageJobs bounds how many reports a page shows at once.
const MaxPageJobs = 20

// ParseIDList splits a comma-separated list of job ids, dropping blanks and
// duplicates.
func ParseIDList(s string) ([]models.JobID, error) {
	return NormalizeIDs(strings.Split(s, ","))
}

// NormalizeIDs validates ids and drops blanks and duplicates, keeping order.
func NormalizeIDs(raw []string) ([]models.JobID, error) {
	seen := make(map[models.JobID]bool, len(raw))
	var ids []models.JobID
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		id, err := models.ParseJobID(r)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one job id is required")
	}
	if len(ids) > MaxPageJobs {
		return nil, fmt.Errorf("at most %d job ids per report, got %d", MaxPageJobs, len(ids))
	}
	return ids, nil
}

// Page shows one report view per job id.
type Page struct {
	newView func() *View

	mu    sync.Mutex
	views []*View
}

// NewPage creates an empty page. newView builds an unmounted view for each slot.
func NewPage(newView func() *View) *Page {
	return &Page{newView: newView}
}

// Open shows ids. Existing slots are re-targeted with ChangeJob, new slots
// are mounted and surplus slots are unmounted.
func (p *Page) Open(ctx context.Context, ids []models.JobID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, id := range ids {
		if i < len(p.views) {
			p.views[i].ChangeJob(ctx, id)
			continue
		}
		v := p.newView()
		v.Mount(ctx, id)
		p.views = append(p.views, v)
	}

	for _, v := range p.views[len(ids):] {
		v.Unmount()
	}
	p.views = p.views[:len(ids)]
}

// View returns the slot showing jobID.
func (p *Page) View(jobID models.JobID) (*View, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.views {
		if v.JobID() == jobID {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
}

// JobIDs returns the jobs on the page in order.
func (p *Page) JobIDs() []models.JobID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]models.JobID, len(p.views))
	for i, v := range p.views {
		ids[i] = v.JobID()
	}
	return ids
}

// Snapshot returns the state of every slot in order.
func (p *Page) Snapshot() []Snapshot {
	p.mu.Lock()
	views := append([]*View(nil), p.views...)
	p.mu.Unlock()

	out := make([]Snapshot, len(views))
	for i, v := range views {
		out[i] = v.Snapshot()
	}
	return out
}

// Close unmounts every slot.
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.views {
		v.Unmount()
	}
	p.views = nil
}

// Manager keeps one page per session. A page lives until it is closed or
// its session expires.
type Manager struct {
	newPage func(sessionID string) *Page
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.Mutex
	pages map[string]*managedPage
}

type managedPage struct {
	page      *Page
	expiresAt time.Time
}

func (mp *managedPage) expired(now time.Time) bool {
	return !mp.expiresAt.IsZero() && !now.Before(mp.expiresAt)
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager. newPage builds the page for a session.
func NewManager(newPage func(sessionID string) *Page, opts ...ManagerOption) *Manager {
	m := &Manager{
		newPage: newPage,
		now:     time.Now,
		logger:  slog.Default(),
		pages:   make(map[string]*managedPage),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open shows ids on the session's page, creating it if needed. The page is
// closed once expiresAt passes; a zero expiresAt never expires.
func (m *Manager) Open(ctx context.Context, sessionID string, expiresAt time.Time, ids []models.JobID) *Page {
	m.mu.Lock()
	mp, ok := m.pages[sessionID]
	if !ok {
		mp = &managedPage{page: m.newPage(sessionID)}
		m.pages[sessionID] = mp
		metrics.SetOpenPages(len(m.pages))
	}
	mp.expiresAt = expiresAt
	m.mu.Unlock()

	mp.page.Open(ctx, ids)
	return mp.page
}

// Page returns the session's page. An expired page is closed and not returned.
func (m *Manager) Page(sessionID string) (*Page, bool) {
	m.mu.Lock()
	mp, ok := m.pages[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	if mp.expired(m.now()) {
		delete(m.pages, sessionID)
		metrics.SetOpenPages(len(m.pages))
		m.mu.Unlock()
		mp.page.Close()
		return nil, false
	}
	m.mu.Unlock()
	return mp.page, true
}

// Close closes the session's page, if any.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	mp, ok := m.pages[sessionID]
	delete(m.pages, sessionID)
	metrics.SetOpenPages(len(m.pages))
	m.mu.Unlock()

	if ok {
		mp.page.Close()
	}
}

// Sweep closes the pages of expired sessions and returns how many it closed.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	var expired []*managedPage
	for id, mp := range m.pages {
		if mp.expired(now) {
			expired = append(expired, mp)
			delete(m.pages, id)
		}
	}
	metrics.SetOpenPages(len(m.pages))
	m.mu.Unlock()

	for _, mp := range expired {
		mp.page.Close()
	}
	return len(expired)
}

// Run sweeps expired pages every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("closed expired report pages", "count", n)
			}
		}
	}
}

// CloseAll closes every page.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	pages := m.pages
	m.pages = make(map[string]*managedPage)
	metrics.SetOpenPages(0)
	m.mu.Unlock()

	for _, mp := range pages {
		mp.page.Close()
	}
}

// Len returns the number of open pages.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}
