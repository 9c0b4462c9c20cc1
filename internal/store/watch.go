package store

import "sync"

// watchHub fans out change notifications to subscribers. Notifications are
// coalescing: a subscriber that has not drained its channel sees at most one
// pending signal and re-reads the store when it gets around to it.
type watchHub struct {
	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

func newWatchHub() *watchHub {
	return &watchHub{subs: make(map[int]chan struct{})}
}

// subscribe registers a listener and returns its channel plus an
// unsubscribe function. Unsubscribe is safe to call more than once.
func (h *watchHub) subscribe() (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan struct{}, 1)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// notify signals every subscriber without blocking. A full channel means a
// notification is already pending for that subscriber.
func (h *watchHub) notify() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
