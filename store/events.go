package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ranked1v1/matchcore/models"
)

// eventBus is the in-process publish/subscribe side of watch_ticket (spec
// §4.5): "the only contract is that the final terminal transition is
// eventually delivered to every live subscriber, and no transitions are
// re-ordered with respect to the ticket." Each ticket gets its own ordered
// fan-out list; subscriber handles are process-local UUIDs, never
// persisted, so a bus can be swapped out freely between store
// implementations (Postgres-backed, in-memory test fake) without touching
// any persisted schema.
type eventBus struct {
	mu   sync.Mutex
	subs map[int]map[uuid.UUID]chan models.Ticket
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]map[uuid.UUID]chan models.Ticket)}
}

// Subscribe returns a buffered channel of ticket snapshots and an
// unsubscribe function. The channel is buffered so Publish never blocks on
// a slow reader within the caller's transaction.
func (b *eventBus) Subscribe(ticketID int) (<-chan models.Ticket, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[ticketID] == nil {
		b.subs[ticketID] = make(map[uuid.UUID]chan models.Ticket)
	}
	id := uuid.New()
	ch := make(chan models.Ticket, 8)
	b.subs[ticketID][id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[ticketID]; ok {
			if c, ok := set[id]; ok {
				delete(set, id)
				close(c)
			}
			if len(set) == 0 {
				delete(b.subs, ticketID)
			}
		}
	}
	return ch, unsubscribe
}

// Publish delivers a ticket snapshot to every live subscriber of that
// ticket. A ticket is published at most three times: on creation, when it
// leaves WAITING, and when its match concludes and the ticket is released;
// the buffer is sized above that so a slow reader never causes a dropped
// delivery.
func (b *eventBus) Publish(t models.Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[t.ID] {
		select {
		case ch <- t:
		default:
		}
	}
}
