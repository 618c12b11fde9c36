package broadcast

import (
	"context"
	"strings"
	"time"

	"github.com/serene-build/serene/internal/store"
)

// Subscribe registers a new subscriber for base. If a build is currently in
// progress, the subscriber is immediately sent the in-memory log buffer
// accumulated so far; otherwise it is sent the last stored complete log
// followed by a synthetic BuildEnd, so a late-joining client still sees
// coherent history (spec §4.10).
func (h *Hub) Subscribe(ctx context.Context, base string) *Subscription {
	b := h.base(base)
	sub := &subscriber{ch: make(chan Event, subscriberCapacity)}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	inProgress := b.inProgress
	b.mu.Unlock()

	go h.catchUp(ctx, base, sub, inProgress)

	return &Subscription{C: sub.ch, hub: h, base: base, sub: sub}
}

func (h *Hub) catchUp(ctx context.Context, base string, sub *subscriber, inProgress *strings.Builder) {
	if inProgress != nil {
		trySend(sub.ch, Event{Kind: EventLog, Text: inProgress.String()})
		return
	}

	latest, err := h.store.SummaryFindLatestFor(ctx, base)
	if err != nil || latest == nil {
		return
	}
	text, ok, err := h.store.LogRead(ctx, *latest)
	if err != nil || !ok {
		return
	}
	trySend(sub.ch, Event{Kind: EventLog, Text: text})
	trySend(sub.ch, Event{Kind: EventBuildEnd, State: latest.State})
}

// PublishChange fans out a state change for base.
func (h *Hub) PublishChange(base string, state store.BuildState) {
	b := h.base(base)

	b.mu.Lock()
	if state.IsTerminal() {
		b.inProgress = nil
	} else if state.Kind == store.StateRunning && state.Progress == store.ProgressBuild && b.inProgress == nil {
		b.inProgress = &strings.Builder{}
	}
	subs := snapshot(b)
	b.mu.Unlock()

	for _, s := range subs {
		trySend(s.ch, Event{Kind: EventChange, State: state})
	}
}

// PublishLog fans out one line of build output for base, also appending it
// to the in-progress buffer new subscribers catch up from.
func (h *Hub) PublishLog(base string, line string) {
	b := h.base(base)

	b.mu.Lock()
	if b.inProgress == nil {
		b.inProgress = &strings.Builder{}
	}
	b.inProgress.WriteString(line)
	b.inProgress.WriteByte('\n')
	subs := snapshot(b)
	b.mu.Unlock()

	for _, s := range subs {
		trySend(s.ch, Event{Kind: EventLog, Text: line})
	}
}

func snapshot(b *perBase) []*subscriber {
	subs := make([]*subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	return subs
}

// trySend is a non-blocking send: a full channel means an overloaded or
// stuck subscriber, who is left to the ping sweep to prune rather than
// blocking the publisher (spec §9 "no unbounded memory per subscriber").
func trySend(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
	}
}

// pingSweep periodically pings every subscriber; a subscriber whose channel
// is full when the ping is sent (subscriberCapacity undelivered events of any
// kind) is dropped.
func (h *Hub) pingSweep() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.sweepOnce()
		}
	}
}

func (h *Hub) sweepOnce() {
	h.mu.Lock()
	bases := make([]*perBase, 0, len(h.bases))
	for _, b := range h.bases {
		bases = append(bases, b)
	}
	h.mu.Unlock()

	for _, b := range bases {
		b.mu.Lock()
		for s := range b.subscribers {
			select {
			case s.ch <- Event{Kind: EventPing}:
			default:
				// Channel still full from a prior, undelivered send: the
				// subscriber isn't keeping up, drop it.
				delete(b.subscribers, s)
				close(s.ch)
			}
		}
		b.mu.Unlock()
	}
}
