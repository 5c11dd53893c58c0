// Package events provides a small typed publish/subscribe bus. Each event
// category gets its own Bus so producers stay decoupled from whoever is
// listening (CLI progress bars, the daemon, tests).
package events

import "sync"

// Bus broadcasts values of one event type to all subscribers. Publish never
// blocks: slow subscribers drop events.
type Bus[T any] struct {
	mu      sync.RWMutex
	clients map[chan T]struct{}
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{clients: make(map[chan T]struct{})}
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Bus[T]) Subscribe() chan T {
	ch := make(chan T, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish sends an event to all subscribers. Full channels are skipped.
func (b *Bus[T]) Publish(event T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			// slow subscriber, drop event
		}
	}
}
