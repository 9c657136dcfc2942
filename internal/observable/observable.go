// Package observable provides a value wrapper that notifies subscribers on
// every mutation. One instance is the canonical copy of a piece of unit state
// (an enabled flag, a selected index) shared between the runtime check inside
// the unit and whatever presentation layer shows it.
package observable

import (
	"sync"
)

// Observer receives the new value after every Set
type Observer[T any] func(value T)

// Observable holds one value and a set of observers
type Observable[T any] struct {
	mu        sync.RWMutex
	value     T
	observers map[uint64]Observer[T]
	nextID    uint64
}

// New creates an observable holding initial
func New[T any](initial T) *Observable[T] {
	return &Observable[T]{
		value:     initial,
		observers: make(map[uint64]Observer[T]),
	}
}

// Get returns the current value. Safe from any goroutine.
func (o *Observable[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value
}

// Set stores value and invokes every observer with it on the calling
// goroutine before returning. Observers run without the lock held, so they
// may call Get or Subscribe.
func (o *Observable[T]) Set(value T) {
	o.mu.Lock()
	o.value = value
	observers := make([]Observer[T], 0, len(o.observers))
	for _, fn := range o.observers {
		observers = append(observers, fn)
	}
	o.mu.Unlock()

	for _, fn := range observers {
		fn(value)
	}
}

// Subscribe registers fn and returns a function that removes it again.
// No ordering among observers is guaranteed.
func (o *Observable[T]) Subscribe(fn Observer[T]) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.observers[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.observers, id)
			o.mu.Unlock()
		})
	}
}

// Observers returns the number of registered observers
func (o *Observable[T]) Observers() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.observers)
}
