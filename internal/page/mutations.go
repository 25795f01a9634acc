package page

import (
	"context"
	"sync"

	"trackguard/internal/hostpage"
)

// MutationHub fans the page's single mutation stream out to every subscriber
// so an element wait and a field watch never steal each other's signals.
// Subscriber channels hold one pending signal; a burst coalesces into it.
type MutationHub struct {
	page hostpage.Page

	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

// NewMutationHub builds a hub over the page's mutation stream. Run must be
// started before subscribers can observe signals.
func NewMutationHub(pg hostpage.Page) *MutationHub {
	return &MutationHub{
		page: pg,
		subs: make(map[int]chan struct{}),
	}
}

// Run forwards mutation signals to all subscribers until ctx is done.
func (h *MutationHub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.page.Mutations():
			h.broadcast()
		}
	}
}

func (h *MutationHub) broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers a listener for mutation signals. The returned cancel
// func releases the subscription; it is safe to call more than once.
func (h *MutationHub) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}
