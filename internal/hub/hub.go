// Package hub fans lifecycle events out to live subscribers. Every event is
// published on two logical topics: the owning user's personal channel and a
// per-run channel that connected viewers may watch. Delivery is best-effort
// and at-most-once per subscriber; there is no replay for late joiners.
package hub

import (
	"sync"
	"time"

	"github.com/mailaudit/mailaudit/internal/model"
)

// EventType classifies a lifecycle event.
type EventType string

// Event types pushed to subscribers.
const (
	EventStarted       EventType = "started"
	EventUpdated       EventType = "updated"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
	EventDomainChanged EventType = "domain_changed"
	EventNotice        EventType = "notice"
)

// Event is one lifecycle notification. Run or Domain carries the affected
// record depending on the event type.
type Event struct {
	Type      EventType     `json:"type"`
	Run       *model.Run    `json:"run,omitempty"`
	Domain    *model.Domain `json:"domain,omitempty"`
	Message   string        `json:"message,omitempty"`
	EmittedAt time.Time     `json:"emitted_at"`
}

// subscriberBufferSize is the channel buffer for each subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Hub routes events to subscriptions. It is safe for concurrent use; the
// registry lock is held only to snapshot recipients, never across sends to
// unrelated subscribers' network writes.
type Hub struct {
	mu     sync.Mutex
	owners map[string]map[*Subscription]struct{}
	runs   map[string]map[*Subscription]struct{}
	all    map[*Subscription]struct{}
}

// Subscription is one connected session's view of the hub. It always carries
// the owner's personal channel and zero or more watched runs.
type Subscription struct {
	hub     *Hub
	ownerID string
	ch      chan Event
	closed  bool
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		owners: make(map[string]map[*Subscription]struct{}),
		runs:   make(map[string]map[*Subscription]struct{}),
		all:    make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscription for the given owner's personal
// channel. The caller must Close it when the session ends.
func (h *Hub) Subscribe(ownerID string) *Subscription {
	sub := &Subscription{
		hub:     h,
		ownerID: ownerID,
		ch:      make(chan Event, subscriberBufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owners[ownerID] == nil {
		h.owners[ownerID] = make(map[*Subscription]struct{})
	}
	h.owners[ownerID][sub] = struct{}{}
	h.all[sub] = struct{}{}
	return sub
}

// Events returns the subscription's receive channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Watch adds the run to the subscription's watched set. Watching an
// already-watched run is a no-op.
func (s *Subscription) Watch(runID string) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	if h.runs[runID] == nil {
		h.runs[runID] = make(map[*Subscription]struct{})
	}
	h.runs[runID][s] = struct{}{}
}

// Unwatch removes the run from the subscription's watched set. Unwatching a
// run that was never watched is a no-op.
func (s *Subscription) Unwatch(runID string) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeWatcher(runID, s)
}

// Close removes the subscription from every topic and closes its channel.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	delete(h.all, s)
	if subs := h.owners[s.ownerID]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.owners, s.ownerID)
		}
	}
	for runID, subs := range h.runs {
		if _, ok := subs[s]; ok {
			h.removeWatcher(runID, s)
		}
	}
	close(s.ch)
}

// removeWatcher must be called while holding h.mu.
func (h *Hub) removeWatcher(runID string, s *Subscription) {
	subs := h.runs[runID]
	if subs == nil {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.runs, runID)
	}
}

// Publish delivers ev to the owner's subscriptions and to watchers of runID.
// A subscription matching both topics receives the event once. Events are
// dropped for subscribers whose buffers are full.
func (h *Hub) Publish(ownerID, runID string, ev Event) {
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[*Subscription]struct{})
	for sub := range h.owners[ownerID] {
		seen[sub] = struct{}{}
	}
	if runID != "" {
		for sub := range h.runs[runID] {
			seen[sub] = struct{}{}
		}
	}

	for sub := range seen {
		deliver(sub, ev)
	}
}

// Broadcast delivers a system-wide notice to every connected subscription.
func (h *Hub) Broadcast(ev Event) {
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.all {
		deliver(sub, ev)
	}
}

func deliver(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
	default:
		// Drop for slow subscribers to avoid blocking emission.
	}
}
