package billing

import (
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel depth. An event that would
// block a full subscriber is dropped for that subscriber only.
const subscriberBuffer = 16

// broadcaster fans every update event out to the current subscriber set.
// There is no history replay: a subscriber that joins after an event never
// observes it. Lifetime is tied to the owning adapter.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[string]chan UpdateEvent
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subs: make(map[string]chan UpdateEvent),
	}
}

// subscribe registers a new subscriber and returns its channel plus a
// cancel func. After the broadcaster is closed, subscribe returns an
// already-closed channel.
func (b *broadcaster) subscribe() (<-chan UpdateEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan UpdateEvent)
		close(ch)
		return ch, func() {}
	}

	id := uuid.NewString()
	ch := make(chan UpdateEvent, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// publish delivers ev to every current subscriber without blocking.
func (b *broadcaster) publish(ev UpdateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop the event for it.
		}
	}
}

// close ends the stream for every subscriber and rejects future publishes.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
