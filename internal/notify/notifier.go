// Package notify fans committed record mutations out to subscribers.
//
// Delivery is best-effort and transient: there is no durable log, so a
// subscriber that connects after an event fired never sees it. Each
// subscriber owns a bounded buffer with drop-oldest backpressure, which
// keeps Publish from ever blocking the commit path behind a slow
// consumer.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the committed mutation kinds.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

// Event is a transient notification of one committed mutation.
type Event struct {
	Structure string         `json:"structure"`
	Kind      Kind           `json:"kind"`
	RecordID  int64          `json:"record_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DefaultBuffer is the per-subscriber event buffer when the caller does
// not configure one.
const DefaultBuffer = 64

// Notifier is the fan-out hub. The zero value is not usable; use New.
type Notifier struct {
	buffer int

	// mu guards subs, closed and every Subscription's done flag. Publish
	// holds it across the fan-out, which both prevents sends on closed
	// channels and serializes per-structure delivery order.
	mu     sync.Mutex
	subs   map[string]map[uuid.UUID]*Subscription
	closed bool
}

// New creates a Notifier with the given per-subscriber buffer size
// (<=0 selects DefaultBuffer).
func New(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Notifier{
		buffer: buffer,
		subs:   make(map[string]map[uuid.UUID]*Subscription),
	}
}

// Subscription is one subscriber's handle. Close it when done; an
// abandoned open subscription keeps accumulating (and dropping) events.
type Subscription struct {
	id        uuid.UUID
	structure string
	ch        chan Event
	n         *Notifier
	done      bool // guarded by n.mu
}

// Events yields this subscriber's event stream. The channel is closed by
// Close and by Notifier.Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	if set, ok := s.n.subs[s.structure]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(s.n.subs, s.structure)
		}
	}
	close(s.ch)
}

// Subscribe registers a subscriber for one structure's events.
// Subscribing to a dropped or never-defined structure is legal; the
// stream simply stays silent.
func (n *Notifier) Subscribe(structure string) *Subscription {
	sub := &Subscription{
		id:        uuid.New(),
		structure: structure,
		ch:        make(chan Event, n.buffer),
		n:         n,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		// Closed notifier: hand back an already-terminated stream.
		sub.done = true
		close(sub.ch)
		return sub
	}
	set, ok := n.subs[structure]
	if !ok {
		set = make(map[uuid.UUID]*Subscription)
		n.subs[structure] = set
	}
	set[sub.id] = sub
	return sub
}

// Publish fans ev out to the current subscribers of ev.Structure.
//
// Never blocks: when a subscriber's buffer is full, its oldest buffered
// event is dropped to make room. Events for one structure reach a given
// subscriber in commit order.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	for _, sub := range n.subs[ev.Structure] {
		select {
		case sub.ch <- ev:
		default:
			// Full. Drop the oldest event, then retry once; if the
			// subscriber consumed in between, the retry just succeeds.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// Close terminates every subscription and rejects further publishes.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for _, set := range n.subs {
		for _, sub := range set {
			if !sub.done {
				sub.done = true
				close(sub.ch)
			}
		}
	}
	n.subs = make(map[string]map[uuid.UUID]*Subscription)
}
