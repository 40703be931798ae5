// Package eventhub implements the single-writer-per-source, multi-reader
// broadcast point described in spec.md §4.5: every ProgressEvent produced
// for a Job is enqueued once and delivered to every live Subscription on
// that Job in production order, with a bounded drop-oldest backlog per
// subscriber so a lagging client cannot stall producers.
package eventhub

import (
	"sync"

	"github.com/agentswarm/swarmd/internal/protocol"
)

const defaultBacklog = 256

// Subscription is one live observer channel bound to a Job.
type Subscription struct {
	events chan *protocol.ProgressEvent
	hub    *Hub
	id     uint64

	mu      sync.Mutex
	dropped bool
}

// Events returns the channel this subscription receives events on. It is
// closed when the Hub is closed.
func (s *Subscription) Events() <-chan *protocol.ProgressEvent {
	return s.events
}

// Unsubscribe detaches this subscription from its Hub. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.hub.unsubscribe(s.id)
}

// Hub multiplexes ProgressEvents for a single Job to any number of
// subscribers. A Hub is created with the Job and destroyed after the
// `complete` event is delivered.
type Hub struct {
	jobID   string
	backlog int

	// Sink, if set, receives every published event exactly once, before
	// fan-out to subscribers and independent of any subscriber's backlog.
	// Used to mirror the stream to a durable per-job event log without
	// subjecting that log to the lagging-subscriber drop policy.
	Sink func(*protocol.ProgressEvent)

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// New creates a Hub for one Job. backlog is the bounded per-subscriber
// queue depth; a value <= 0 uses the default.
func New(jobID string, backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		jobID:   jobID,
		backlog: backlog,
		subs:    make(map[uint64]*Subscription),
	}
}

// Subscribe attaches a new Subscription to the Hub.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		events: make(chan *protocol.ProgressEvent, h.backlog),
		hub:    h,
		id:     h.nextID,
	}
	if h.closed {
		close(sub.events)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Publish delivers evt to every live subscription, in call order. If a
// subscriber's queue is full, the oldest queued event for that subscriber
// is dropped and a single "subscriber lagging" warning event is enqueued
// in its place, per spec.md §4.5.
func (h *Hub) Publish(evt *protocol.ProgressEvent) {
	if h.Sink != nil {
		h.Sink(evt)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for _, sub := range h.subs {
		h.deliver(sub, evt)
	}
}

func (h *Hub) deliver(sub *Subscription, evt *protocol.ProgressEvent) {
	select {
	case sub.events <- evt:
		return
	default:
	}

	// Backlog full: drop the oldest queued event and make room, emitting a
	// single lag warning rather than one per dropped event.
	select {
	case <-sub.events:
	default:
	}

	sub.mu.Lock()
	alreadyWarned := sub.dropped
	sub.dropped = true
	sub.mu.Unlock()

	if !alreadyWarned {
		warning := &protocol.ProgressEvent{
			JobID:     h.jobID,
			AgentKey:  protocol.AgentKeyJob,
			Kind:      protocol.EventKindWarning,
			Payload:   "subscriber lagging; events dropped",
			Timestamp: evt.Timestamp,
		}
		select {
		case sub.events <- warning:
		default:
		}
	}

	select {
	case sub.events <- evt:
	default:
		// Still full even after eviction (warning took the freed slot);
		// the event is best-effort and is dropped rather than blocking.
	}
}

// Close detaches and closes every live subscription's channel. Safe to
// call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.events)
		delete(h.subs, id)
	}
}
