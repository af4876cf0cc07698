package incident

import (
	"context"
	"sync"
)

// Hub is a Locator fed by the browser: the dashboard reports the
// device position once and every waiting session picks it up. If
// nothing is reported before the session's locate timeout, the
// session proceeds without coordinates.
type Hub struct {
	mu     sync.Mutex
	coords *Coordinates
	ready  chan struct{}
	once   sync.Once
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{ready: make(chan struct{})}
}

// Report stores the device position and releases waiters. Later
// reports update the stored position.
func (h *Hub) Report(coords Coordinates) {
	h.mu.Lock()
	h.coords = &coords
	h.mu.Unlock()
	h.once.Do(func() { close(h.ready) })
}

// Locate implements Locator with a context-bounded wait.
func (h *Hub) Locate(ctx context.Context) (*Coordinates, error) {
	select {
	case <-h.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.coords == nil {
		return nil, nil
	}
	coords := *h.coords
	return &coords, nil
}
