package audit

import (
	"sync"

	"github.com/hostbridge/hostbridge/internal/store"
)

// Bus fans out audit entries to live subscribers in real time.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan *store.AuditEntry]chan *store.AuditEntry
}

// NewBus creates a new audit event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[<-chan *store.AuditEntry]chan *store.AuditEntry),
	}
}

// Subscribe registers a new listener and returns a receive-only channel.
// The caller must call Unsubscribe when done.
func (b *Bus) Subscribe() <-chan *store.AuditEntry {
	ch := make(chan *store.AuditEntry, 64)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan *store.AuditEntry) {
	b.mu.Lock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
	b.mu.Unlock()
}

// Publish sends an entry to all subscribers without blocking.
// Slow consumers that can't keep up will miss events.
func (b *Bus) Publish(entry *store.AuditEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}
