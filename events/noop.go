package events

import (
	"context"

	"github.com/reqguard/reqguard/guardlib"
)

type noop struct{}

func (n noop) Send(_ context.Context, _ guardlib.Event) {}

// NewNoopStream creates a stream which discards every event.
func NewNoopStream() guardlib.EventStream {
	return noop{}
}

type noopObserver struct{}

func (n noopObserver) EventRateLimited(_ guardlib.EventRateLimited)               {}
func (n noopObserver) EventThreat(_ guardlib.EventThreat)                         {}
func (n noopObserver) EventCSRFFailed(_ guardlib.EventCSRFFailed)                 {}
func (n noopObserver) EventSanitizedField(_ guardlib.EventSanitizedField)         {}
func (n noopObserver) EventAuth(_ guardlib.EventAuth)                             {}
func (n noopObserver) EventTimeout(_ guardlib.EventTimeout)                       {}
func (n noopObserver) EventMalformedInput(_ guardlib.EventMalformedInput)         {}
func (n noopObserver) EventSpeedDelayed(_ guardlib.EventSpeedDelayed)             {}
func (n noopObserver) EventConcurrencyLimited(_ guardlib.EventConcurrencyLimited) {}
func (n noopObserver) EventRequestFinish(_ guardlib.EventRequestFinish)           {}
func (n noopObserver) Shutdown()                                                  {}

// NewNoopObserver creates an observer which does nothing.
func NewNoopObserver() Observer {
	return noopObserver{}
}
