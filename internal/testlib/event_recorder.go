package testlib

import (
	"context"
	"sync"

	"github.com/reqguard/reqguard/guardlib"
)

// EventRecorder is an EventStream which keeps everything it gets.
type EventRecorder struct {
	mutex  sync.Mutex
	events []guardlib.Event
}

func (e *EventRecorder) Send(_ context.Context, evt guardlib.Event) {
	e.mutex.Lock()
	e.events = append(e.events, evt)
	e.mutex.Unlock()
}

func (e *EventRecorder) Events() []guardlib.Event {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	rv := make([]guardlib.Event, len(e.events))
	copy(rv, e.events)

	return rv
}

func (e *EventRecorder) OfCategory(category guardlib.Category) []guardlib.Event {
	rv := []guardlib.Event{}

	for _, evt := range e.Events() {
		if evt.Category() == category {
			rv = append(rv, evt)
		}
	}

	return rv
}
