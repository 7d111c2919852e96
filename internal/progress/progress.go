// Package progress implements the Progress Bus (C11): per-session
// channels of typed ProgressEvent, published as each phase begins and as
// each segment render completes. Delivery is best-effort at-most-once — a
// subscriber that isn't listening simply misses the event, per spec.md
// §4.11; clients must still poll status for correctness.
package progress

import (
	"sync"

	"github.com/cartomix/opus/internal/domain"
)

// Event is the typed payload delivered to subscribers.
type Event = domain.ProgressEvent

// Bus fans events out to per-session subscriber channels.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe joins a session's progress room. The returned channel is
// buffered (16 events). Calling the returned cancel function stops further
// deliveries and closes the channel; callers must call it to avoid leaking
// the channel's slot.
func (b *Bus) Subscribe(sessionID string) (ch <-chan Event, cancel func()) {
	c := make(chan Event, 16)
	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], c)
	b.mu.Unlock()

	cancelled := false
	return c, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cancelled {
			return
		}
		cancelled = true
		subs := b.subs[sessionID]
		for i, s := range subs {
			if s == c {
				b.subs[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[sessionID]) == 0 {
			delete(b.subs, sessionID)
		}
		close(c)
	}
}

// Publish delivers an event to every current subscriber of its session,
// best-effort: a subscriber whose buffer is full is skipped rather than
// blocking the publisher.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := append([]chan Event(nil), b.subs[e.SessionID]...)
	b.mu.Unlock()

	for _, c := range subs {
		select {
		case c <- e:
		default:
		}
	}
}
