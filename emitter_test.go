package keyloom

import (
	"testing"

	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

func TestEmitterDeliversInSubscriptionOrder(t *testing.T) {
	e := newEventEmitter(providerUtils.NopLogger{})

	var order []int
	e.Subscribe(func(schemas.Event) { order = append(order, 1) })
	e.Subscribe(func(schemas.Event) { order = append(order, 2) })
	e.Subscribe(func(schemas.Event) { order = append(order, 3) })

	e.Emit(schemas.Event{Type: schemas.EventStateChanged})
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v", order)
	}
}

func TestEmitterPanicIsolation(t *testing.T) {
	e := newEventEmitter(providerUtils.NopLogger{})

	var delivered bool
	e.Subscribe(func(schemas.Event) { panic("listener bug") })
	e.Subscribe(func(schemas.Event) { delivered = true })

	e.Emit(schemas.Event{Type: schemas.EventError})
	if !delivered {
		t.Fatal("panicking listener blocked later listeners")
	}
}

func TestEmitterUnsubscribe(t *testing.T) {
	e := newEventEmitter(providerUtils.NopLogger{})

	var calls int
	unsubscribe := e.Subscribe(func(schemas.Event) { calls++ })

	e.Emit(schemas.Event{Type: schemas.EventStateChanged})
	unsubscribe()
	unsubscribe() // second call is a no-op
	e.Emit(schemas.Event{Type: schemas.EventStateChanged})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestEmitterClear(t *testing.T) {
	e := newEventEmitter(providerUtils.NopLogger{})

	var calls int
	e.Subscribe(func(schemas.Event) { calls++ })
	e.Clear()
	e.Emit(schemas.Event{Type: schemas.EventStateChanged})

	if calls != 0 {
		t.Fatalf("calls = %d after Clear, want 0", calls)
	}
}
