// Package stream is the in-memory pub/sub feeding the control plane's live
// notification feed.
package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Event is one published payload, already serialized for the wire.
type Event struct {
	ID    string
	Event string
	Data  []byte
}

// Hub fans published events out to subscribers. Slow subscribers drop
// events rather than blocking publishers. Each subscriber is stored with its
// unsubscribe func so Close and a deferred unsub share one close guard.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]func()
	closed bool
}

// NewHub builds an empty hub. The orchestrator owns it for the process
// lifetime.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]func())}
}

// Publish delivers the event to every subscriber. Full subscriber buffers
// drop the event.
func (h *Hub) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a buffered channel and returns it with its
// unsubscribe function.
func (h *Hub) Subscribe(buf int) (chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = unsub
	h.mu.Unlock()
	return ch, unsub
}

// Stream pumps events into fn until the context ends, fn errors, or the hub
// closes.
func (h *Hub) Stream(ctx context.Context, buf int, fn func(Event) error) error {
	ch, unsub := h.Subscribe(buf)
	defer unsub()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := fn(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drops every subscriber and rejects future ones. Each channel is
// closed through its own unsubscribe func, so a subscriber's deferred unsub
// running afterwards is a no-op instead of a double close.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	unsubs := make([]func(), 0, len(h.subs))
	for _, f := range h.subs {
		unsubs = append(unsubs, f)
	}
	h.mu.Unlock()

	for _, f := range unsubs {
		f()
	}
}
