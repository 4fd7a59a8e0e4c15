// Package observe implements the property-change notifications exposed by
// endpoints, filter stages and links.
package observe

import "sync"

// Handler receives the name of the field that changed.
type Handler func(field string)

// Notifier fans property changes out to subscribers. The zero value is ready
// to use.
type Notifier struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[uint64]Handler
}

// Subscribe registers fn and returns a function that removes it.
func (n *Notifier) Subscribe(fn Handler) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.handlers == nil {
		n.handlers = make(map[uint64]Handler)
	}
	id := n.next
	n.next++
	n.handlers[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.handlers, id)
		n.mu.Unlock()
	}
}

// Notify calls every subscriber synchronously. It must not be called while
// holding a lock a subscriber may take.
func (n *Notifier) Notify(field string) {
	n.mu.RLock()
	if len(n.handlers) == 0 {
		n.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(n.handlers))
	for _, fn := range n.handlers {
		handlers = append(handlers, fn)
	}
	n.mu.RUnlock()

	for _, fn := range handlers {
		fn(field)
	}
}
