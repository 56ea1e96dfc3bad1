// ABOUTME: Fan-out of orchestrator state snapshots to subscribers over buffered channels.
// ABOUTME: Callers broadcast under the orchestrator lock, so a slow subscriber loses intermediate snapshots but ends on the latest.
package orchestrator

import "sync"

const subscriberBuffer = 64

type stateBroadcaster struct {
	mu          sync.RWMutex
	subscribers []chan State
	closed      bool
}

// subscribe registers a new channel. Once closeAll has run it returns a
// closed channel and false.
func (b *stateBroadcaster) subscribe() (chan State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan State, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, false
	}
	b.subscribers = append(b.subscribers, ch)
	return ch, true
}

func (b *stateBroadcaster) unsubscribe(ch chan State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *stateBroadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
	b.closed = true
}

// broadcast never blocks. When a buffer is full the oldest queued snapshot
// is dropped to make room.
func (b *stateBroadcaster) broadcast(s State) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- s:
			continue
		default:
		}
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
