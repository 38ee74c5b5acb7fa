package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// StatusEventType classifies a connection status event.
type StatusEventType string

const (
	EventOpened       StatusEventType = "opened"
	EventFailed       StatusEventType = "failed"
	EventReconnecting StatusEventType = "reconnecting"
	EventExhausted    StatusEventType = "exhausted"
	EventClosed       StatusEventType = "closed"
)

// StatusEvent is the JSON-serialisable record of a connection transition.
type StatusEvent struct {
	Type       StatusEventType `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	State      ConnectionState `json:"state"`
	RetryCount int             `json:"retry_count"`
	Reason     string          `json:"reason,omitempty"`
}

// subscriberBuffer bounds how far a slow observer may lag before it starts
// missing events.
const subscriberBuffer = 64

// EventBus fans connection status events out to observers such as the admin
// event stream. A nil *EventBus drops everything.
type EventBus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan StatusEvent
	dropped atomic.Int64
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[uint64]chan StatusEvent)}
}

// Subscribe registers an observer. The returned cancel func removes it and
// closes its channel; calling it again is harmless.
func (b *EventBus) Subscribe() (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, subscriberBuffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Publish stamps e and offers it to every observer without blocking the
// connection manager. Events a full observer cannot take are counted in
// Dropped.
func (b *EventBus) Publish(e StatusEvent) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Len returns the current subscriber count.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many events were skipped for lagging observers.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }
