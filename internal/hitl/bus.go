package hitl

import "sync"

// Event is published when a request is created or changes state.
type Event struct {
	Type    string   `json:"type"` // "created" or "updated"
	Request *Request `json:"request"`
}

// Bus fans out request events to live subscribers (WebSocket handlers).
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[<-chan Event]chan Event),
	}
}

// Subscribe registers a new listener.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking. Slow
// subscribers miss events rather than stalling the manager.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
