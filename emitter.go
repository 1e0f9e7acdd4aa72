package keyloom

import (
	"fmt"
	"sort"
	"sync"

	schemas "github.com/keyloom/keyloom/schemas"
)

// eventEmitter delivers client events to subscribers. Emission is
// synchronous on the calling goroutine; a panicking listener is recovered
// and logged so it cannot take down the emitter or its siblings.
type eventEmitter struct {
	logger schemas.Logger

	mu        sync.Mutex
	listeners map[int]schemas.EventListener
	nextID    int
}

func newEventEmitter(logger schemas.Logger) *eventEmitter {
	return &eventEmitter{
		logger:    logger,
		listeners: make(map[int]schemas.EventListener),
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
// Unsubscribing twice is harmless.
func (e *eventEmitter) Subscribe(listener schemas.EventListener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = listener
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Emit delivers the event to every current listener in subscription order.
func (e *eventEmitter) Emit(event schemas.Event) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order.
	sort.Ints(ids)
	listeners := make([]schemas.EventListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.listeners[id])
	}
	e.mu.Unlock()

	for _, listener := range listeners {
		e.safeInvoke(listener, event)
	}
}

func (e *eventEmitter) safeInvoke(listener schemas.EventListener, event schemas.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(fmt.Errorf("event listener panicked on %s: %v", event.Type, r))
		}
	}()
	listener(event)
}

// Clear drops every listener.
func (e *eventEmitter) Clear() {
	e.mu.Lock()
	e.listeners = make(map[int]schemas.EventListener)
	e.mu.Unlock()
}
