// Package event is a small non-blocking publish/subscribe hub used to push
// status changes and traffic samples to whichever presentation layer runs.
package event

import (
	"sync"

	"github.com/yllada/vpnrdp-manager/common"
)

// Bus fans out values of type T to every subscriber. Publish never blocks:
// a subscriber whose buffer is full misses that value.
type Bus[T any] struct {
	mu     sync.RWMutex
	name   string
	nextID int
	subs   map[int]chan T
	closed bool
}

// NewBus creates a bus. name only appears in log messages.
func NewBus[T any](name string) *Bus[T] {
	return &Bus[T]{name: name, subs: make(map[int]chan T)}
}

// Subscribe returns a receive channel with the given buffer size and a
// function that unsubscribes and closes it.
func (b *Bus[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers v to every subscriber that has room.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- v:
		default:
			common.LogDebug("%s bus: subscriber %d is full, dropping event", b.name, id)
		}
	}
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later Subscribe calls get a closed channel.
func (b *Bus[T]) Close() {
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
