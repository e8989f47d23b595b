package bus

import (
	"sync"

	"github.com/jkaberg/sensor-stream/internal/domain"
)

// Bus fans engine Status updates out to display collaborators. Each Subscribe
// call gets its own channel that receives every future publication a slow
// reader has room for. Past messages are not replayed. Safe for concurrent
// publishers and subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan domain.Status
}

// New creates a ready-to-use Bus.
func New() *Bus { return &Bus{} }

// Subscribe returns a read-only channel that will receive future Status
// values.
func (b *Bus) Subscribe() <-chan domain.Status {
	ch := make(chan domain.Status, 1) // small buffer avoids blocking
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan domain.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			// remove without preserving order
			b.subscribers[i] = b.subscribers[len(b.subscribers)-1]
			b.subscribers = b.subscribers[:len(b.subscribers)-1]
			close(sub)
			return
		}
	}
}

// Publish delivers s to all subscribers without blocking. A subscriber whose
// buffer still holds an older Status has that value replaced, so readers
// always see the latest state.
func (b *Bus) Publish(s domain.Status) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- s:
			continue
		default:
		}
		// Full: drop the stale value and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
