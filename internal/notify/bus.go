// Package notify provides the process-wide change notification bus.
//
// The bus fires after every successful local mutation and after every
// successful sync. It carries no payload: listeners re-read whatever state
// they render.
package notify

import (
	"log"
	"os"
	"sync"
)

// Listener is called on every notification.
type Listener func()

// Notifier is the publishing side of the bus.
type Notifier interface {
	Notify()
}

// Bus broadcasts change notifications to registered listeners.
type Bus struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
	logger    *log.Logger
}

var _ Notifier = (*Bus)(nil)

// NewBus creates an empty bus. If logger is nil, a default logger writing
// to stderr is used.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Bus{
		listeners: make(map[uint64]Listener),
		logger:    logger,
	}
}

// Subscribe registers fn and returns a function that unregisters it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Notify synchronously calls every registered listener. A listener that
// panics is logged and skipped; the others still run.
func (b *Bus) Notify() {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	// Called outside the lock so listeners may subscribe or unsubscribe.
	for _, fn := range listeners {
		b.call(fn)
	}
}

func (b *Bus) call(fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("Listener panicked: %v", r)
		}
	}()
	fn()
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
