// Package events provides typed publish/subscribe buses.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Bus fans out events of type E to subscribers in subscription order.
// Delivery is synchronous on the publishing goroutine.
type Bus[E any] struct {
	name      string
	mu        sync.RWMutex
	nextID    int
	listeners []listener[E]
}

type listener[E any] struct {
	id int
	fn func(E)
}

// NewBus creates an empty bus. The name is only used in log output.
func NewBus[E any](name string) *Bus[E] {
	return &Bus[E]{name: name}
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (b *Bus[E]) Subscribe(fn func(E)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener[E]{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e to every current subscriber. A panicking subscriber is
// logged and skipped.
func (b *Bus[E]) Publish(e E) {
	b.mu.RLock()
	snapshot := make([]listener[E], len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.RUnlock()

	for _, l := range snapshot {
		b.deliver(l, e)
	}
}

func (b *Bus[E]) deliver(l listener[E], e E) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"bus":      b.name,
				"listener": l.id,
			}).Errorf("event listener panicked: %v", r)
		}
	}()
	l.fn(e)
}

// Len returns the number of subscribers.
func (b *Bus[E]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
