package agent

import (
	"sync"

	"github.com/aegisfield/aegis/internal/types"
)

// Notifier fans replay notifications out to connected clients. Messages are
// advisory hints to re-read the report store, so delivery is best effort:
// a subscriber that cannot keep up loses messages rather than blocking the
// replay pass.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]chan types.SyncMessage
	next int
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan types.SyncMessage)}
}

// Subscribe registers a listener. The returned cancel function is safe to
// call more than once.
func (n *Notifier) Subscribe() (<-chan types.SyncMessage, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan types.SyncMessage, 16)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers msg to every subscriber without blocking.
func (n *Notifier) Publish(msg types.SyncMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}
