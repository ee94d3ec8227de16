package vault

import (
	"crypto/rand"
	"sync"
)

// broadcastBufferSize bounds each subscriber's event queue. Auth workers
// must drain this faster than the vault publishes or they get dropped
// (see Broadcaster.Publish); this is why the auth worker loop polls its
// subscription before the client stream on every iteration.
const broadcastBufferSize = 256

// Event is something the vault wants mirrored to every interested client.
type Event interface{ isVaultEvent() }

// NodeChanged is published whenever UpdateNode commits a new version of a
// node. RevisionID is a fresh random value per change, not a counter: the
// source only ever compares it for inequality, never orders by it.
type NodeChanged struct {
	NodeID     uint32
	RevisionID [16]byte
}

func (NodeChanged) isVaultEvent() {}

// NodeAdded is published whenever RefNode is called with broadcast=true.
type NodeAdded struct {
	Parent uint32
	Child  uint32
	Owner  uint32
}

func (NodeAdded) isVaultEvent() {}

// BufferPropagated carries a client's PropagateBuffer payload to every
// other session. It is fan-out only: the vault stores nothing for it.
type BufferPropagated struct {
	TypeID uint32
	Buffer []byte
}

func (BufferPropagated) isVaultEvent() {}

func newRevisionID() [16]byte {
	var id [16]byte
	_, _ = rand.Read(id[:])
	return id
}

// Subscription is a single connection's view of the broadcast bus.
type Subscription struct {
	events chan Event
	b      *Broadcaster
}

// Events returns the channel of events for this subscription. Receiving
// from it is the only way to keep it from overflowing.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close unsubscribes; it is safe to call more than once.
func (s *Subscription) Close() { s.b.unsubscribe(s) }

// Broadcaster fans out vault change events to every subscribed connection.
// A slow subscriber that doesn't drain its channel gets events dropped
// rather than blocking the publisher, matching the source's bounded
// per-connection broadcast queue.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscription. Callers must Close it on
// disconnect.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{events: make(chan Event, broadcastBufferSize), b: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.events)
	}
}

// Publish fans ev out to every current subscriber. A full subscriber
// buffer drops the event for that subscriber rather than blocking; this
// is a deliberate overflow policy, not a bug, since a disconnecting or
// frozen client must never stall the single vault goroutine.
func (b *Broadcaster) Publish(ev Event) {
	b.PublishExcept(ev, nil)
}

// PublishExcept fans ev out to every subscriber other than except, used to
// mirror a client's own propagate-buffer to everyone but its origin.
func (b *Broadcaster) PublishExcept(ev Event, except *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub == except {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}
