// Package broadcast implements the process-wide fan-out of live build state
// and log events to subscribers (spec §4.10).
package broadcast

import (
	"strings"
	"sync"
	"time"

	"github.com/serene-build/serene/internal/store"
)

// subscriberCapacity bounds each subscriber's channel; overflow drops the
// subscription on the next ping sweep (spec §5 suspension points).
const subscriberCapacity = 10

// pingInterval is how often dead subscribers are pruned (spec §4.10).
const pingInterval = 10 * time.Second

// EventKind discriminates the four event shapes a subscriber can receive.
type EventKind string

const (
	EventChange   EventKind = "change"
	EventLog      EventKind = "log"
	EventPing     EventKind = "ping"
	EventBuildEnd EventKind = "build_end" // synthetic, sent to late subscribers
)

// Event is what flows over a subscriber's channel.
type Event struct {
	Kind  EventKind
	State store.BuildState // EventChange
	Text  string            // EventLog
}

type subscriber struct {
	ch chan Event
}

// perBase tracks a base's live subscribers plus the in-progress log buffer
// used to catch a newly joined subscriber up (spec §4.10).
type perBase struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	inProgress  *strings.Builder // nil when no build is currently running
}

// Hub is the process-wide fan-out; the zero value is not usable, use New.
type Hub struct {
	store store.Store

	mu    sync.Mutex
	bases map[string]*perBase

	stop chan struct{}
}

// New returns a Hub that falls back to st for "last stored complete log"
// catch-up of late subscribers, and starts its ping sweep goroutine.
func New(st store.Store) *Hub {
	h := &Hub{store: st, bases: map[string]*perBase{}, stop: make(chan struct{})}
	go h.pingSweep()
	return h
}

// Close stops the ping sweep goroutine.
func (h *Hub) Close() { close(h.stop) }

func (h *Hub) base(name string) *perBase {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bases[name]
	if !ok {
		b = &perBase{subscribers: map[*subscriber]struct{}{}}
		h.bases[name] = b
	}
	return b
}

// Subscription is returned by Subscribe; callers receive events on C until
// they call Close.
type Subscription struct {
	C    <-chan Event
	hub  *Hub
	base string
	sub  *subscriber
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	b := s.hub.base(s.base)
	b.mu.Lock()
	delete(b.subscribers, s.sub)
	b.mu.Unlock()
}
