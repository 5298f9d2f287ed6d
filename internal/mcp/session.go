package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionIdleTimeout is how long a session survives without traffic before
// pruning reclaims it. Clients past it must reinitialize.
const sessionIdleTimeout = 30 * time.Minute

type session struct {
	id        string
	client    ClientInfo
	createdAt time.Time
	lastSeen  time.Time
}

// sessionTable tracks live MCP sessions. Idle sessions are pruned lazily on
// create, so the table stays bounded without a sweeper goroutine.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*session)}
}

func (t *sessionTable) create(client ClientInfo) *session {
	now := time.Now()
	sess := &session{
		id:        uuid.NewString(),
		client:    client,
		createdAt: now,
		lastSeen:  now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.sessions {
		if now.Sub(s.lastSeen) > sessionIdleTimeout {
			delete(t.sessions, id)
		}
	}
	t.sessions[sess.id] = sess
	return sess
}

// touch refreshes a session's idle clock and reports whether it exists.
func (t *sessionTable) touch(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return false
	}
	if time.Since(s.lastSeen) > sessionIdleTimeout {
		delete(t.sessions, id)
		return false
	}
	s.lastSeen = time.Now()
	return true
}

func (t *sessionTable) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; !ok {
		return false
	}
	delete(t.sessions, id)
	return true
}
