// Package notify tells interested clients that a room changed. Events carry
// only the room code and version; receivers always re-read the room.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ifo/sanic"
)

// subscriberBuffer is how many undelivered events a slow subscriber may
// hold before further events for it are dropped. A dropped event is harmless
// because the next one makes the subscriber refetch anyway.
const subscriberBuffer = 8

// Event says room Code reached Version.
type Event struct {
	ID      string    `json:"id"`
	Origin  string    `json:"origin,omitempty"`
	Code    string    `json:"code"`
	Version int64     `json:"version"`
	At      time.Time `json:"at"`
}

// Hub fans events out to in-process subscribers, per room.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]chan Event
	worker *sanic.Worker
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   map[string]map[string]chan Event{},
		worker: sanic.NewWorker10(0),
	}
}

// NewEvent stamps a fresh event for code at version.
func (h *Hub) NewEvent(code string, version int64) Event {
	id := h.worker.NextID()
	return Event{
		ID:      h.worker.IDString(id),
		Code:    code,
		Version: version,
		At:      time.Now(),
	}
}

// Publish implements numduel.Notifier for a single process.
func (h *Hub) Publish(_ context.Context, code string, version int64) error {
	h.Deliver(h.NewEvent(code, version))
	return nil
}

// Deliver hands ev to every subscriber of its room without blocking.
func (h *Hub) Deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[ev.Code] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers interest in code. cancel must be called when done; it
// closes the channel.
func (h *Hub) Subscribe(code string) (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[code] == nil {
		h.subs[code] = map[string]chan Event{}
	}
	h.subs[code][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[code], id)
			if len(h.subs[code]) == 0 {
				delete(h.subs, code)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers counts listeners for code.
func (h *Hub) Subscribers(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[code])
}
