package hitl

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTTLSeconds is the approval window when none is configured.
	DefaultTTLSeconds = 300

	sweepInterval      = 10 * time.Second
	completedRetention = time.Hour
)

// outcome carries the final state of a request to its waiting caller.
type outcome struct {
	status  Status
	request *Request
}

// Manager coordinates approval requests and their resolution. Each Submit
// blocks its caller independently; the shared tables are guarded by a single
// mutex and every request leaves pending exactly once.
type Manager struct {
	bus        *Bus
	defaultTTL int
	logger     *slog.Logger

	mu       sync.Mutex
	requests map[string]*Request
	waiters  map[string]chan outcome
}

// NewManager creates a manager publishing lifecycle events on bus.
func NewManager(bus *Bus, defaultTTLSeconds int, logger *slog.Logger) *Manager {
	if defaultTTLSeconds <= 0 {
		defaultTTLSeconds = DefaultTTLSeconds
	}
	return &Manager{
		bus:        bus,
		defaultTTL: defaultTTLSeconds,
		logger:     logger,
		requests:   make(map[string]*Request),
		waiters:    make(map[string]chan outcome),
	}
}

// Submit registers req as pending and blocks until a reviewer decides, the
// TTL elapses, or ctx is cancelled. The returned request is the final state;
// the error is nil on approval, ErrRejected, ErrExpired, or the context
// error.
func (m *Manager) Submit(ctx context.Context, req *Request) (*Request, error) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.TTLSeconds <= 0 {
		req.TTLSeconds = m.defaultTTL
	}
	req.Status = StatusPending

	ch := make(chan outcome, 1)
	m.mu.Lock()
	m.requests[req.ID] = req
	m.waiters[req.ID] = ch
	snap := req.snapshot()
	m.mu.Unlock()

	m.logger.Info("approval requested",
		"id", req.ID,
		"tool", req.ToolCategory+"_"+req.ToolName,
		"reason", req.PolicyRuleMatched,
		"ttl_seconds", req.TTLSeconds)
	m.bus.Publish(Event{Type: "created", Request: snap})

	timer := time.AfterFunc(time.Duration(req.TTLSeconds)*time.Second, func() {
		m.expire(req.ID, "")
	})
	defer timer.Stop()

	select {
	case out := <-ch:
		switch out.status {
		case StatusApproved:
			return out.request, nil
		case StatusRejected:
			return out.request, ErrRejected
		default:
			return out.request, ErrExpired
		}
	case <-ctx.Done():
		m.expire(req.ID, "client disconnected")
		return nil, ctx.Err()
	}
}

// Decide transitions a pending request to approved or rejected and wakes its
// waiter. A request past its TTL is expired instead, whatever the decision.
func (m *Manager) Decide(id string, approve bool, reviewer, note string) (*Request, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	req, ok := m.requests[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if req.expiredBy(now) {
		snap, ch := m.expireLocked(req, "")
		m.mu.Unlock()
		m.finishExpiry(snap, ch)
		return nil, ErrExpired
	}
	if req.Status != StatusPending {
		m.mu.Unlock()
		return nil, ErrAlreadyDecided
	}

	if approve {
		req.Status = StatusApproved
	} else {
		req.Status = StatusRejected
	}
	req.ReviewedBy = reviewer
	req.ReviewedAt = &now
	req.ReviewerNote = note
	snap := req.snapshot()
	ch := m.waiters[id]
	delete(m.waiters, id)
	m.mu.Unlock()

	if ch != nil {
		ch <- outcome{status: snap.Status, request: snap}
	}
	m.logger.Info("approval decided", "id", id, "status", snap.Status, "reviewer", reviewer)
	m.bus.Publish(Event{Type: "updated", Request: snap})
	return snap, nil
}

// Get returns a point-in-time view of one request. A pending request past
// its TTL is observed as expired even if the sweeper has not run yet.
func (m *Manager) Get(id string) (*Request, error) {
	now := time.Now().UTC()
	m.mu.Lock()
	req, ok := m.requests[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	snap := req.snapshot()
	m.mu.Unlock()

	if snap.expiredBy(now) {
		snap.Status = StatusExpired
	}
	return snap, nil
}

// ListPending returns the pending requests ordered by creation time.
func (m *Manager) ListPending() []*Request {
	now := time.Now().UTC()
	m.mu.Lock()
	out := make([]*Request, 0, len(m.requests))
	for _, req := range m.requests {
		if req.Status != StatusPending || req.expiredBy(now) {
			continue
		}
		out = append(out, req.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PendingCount returns the number of requests currently pending.
func (m *Manager) PendingCount() int {
	return len(m.ListPending())
}

// Run expires overdue requests and purges decided ones older than an hour,
// until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(time.Now().UTC())
		}
	}
}

// Shutdown expires every pending request so suspended callers unblock.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.requests))
	for id, req := range m.requests {
		if req.Status == StatusPending {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.expire(id, "server shutdown")
	}
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	var due []string
	purged := 0
	for id, req := range m.requests {
		if req.expiredBy(now) {
			due = append(due, id)
			continue
		}
		if req.Status != StatusPending && req.CreatedAt.Before(now.Add(-completedRetention)) {
			delete(m.requests, id)
			purged++
		}
	}
	m.mu.Unlock()

	for _, id := range due {
		m.expire(id, "")
	}
	if len(due) > 0 || purged > 0 {
		m.logger.Info("approval sweep", "expired", len(due), "purged", purged)
	}
}

// expire transitions a pending request to expired. Decided requests are
// untouched, so a timer firing after a decision is a no-op.
func (m *Manager) expire(id, note string) {
	m.mu.Lock()
	req, ok := m.requests[id]
	if !ok || req.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	snap, ch := m.expireLocked(req, note)
	m.mu.Unlock()
	m.finishExpiry(snap, ch)
}

func (m *Manager) expireLocked(req *Request, note string) (*Request, chan outcome) {
	req.Status = StatusExpired
	if note != "" {
		req.ReviewerNote = note
	}
	snap := req.snapshot()
	ch := m.waiters[req.ID]
	delete(m.waiters, req.ID)
	return snap, ch
}

func (m *Manager) finishExpiry(snap *Request, ch chan outcome) {
	if ch != nil {
		ch <- outcome{status: StatusExpired, request: snap}
	}
	m.logger.Info("approval expired", "id", snap.ID)
	m.bus.Publish(Event{Type: "updated", Request: snap})
}
