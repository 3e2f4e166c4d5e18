package events

import "github.com/reqguard/reqguard/guardlib"

// Observer is an instance which processes events of the event stream.
// Each method is called from a single goroutine of the stream, so
// implementations do not need to synchronize their own state unless it is
// shared between observers.
type Observer interface {
	EventRateLimited(guardlib.EventRateLimited)
	EventThreat(guardlib.EventThreat)
	EventCSRFFailed(guardlib.EventCSRFFailed)
	EventSanitizedField(guardlib.EventSanitizedField)
	EventAuth(guardlib.EventAuth)
	EventTimeout(guardlib.EventTimeout)
	EventMalformedInput(guardlib.EventMalformedInput)
	EventSpeedDelayed(guardlib.EventSpeedDelayed)
	EventConcurrencyLimited(guardlib.EventConcurrencyLimited)
	EventRequestFinish(guardlib.EventRequestFinish)

	Shutdown()
}

// ObserverFactory creates a new observer for each goroutine of the event
// stream.
type ObserverFactory func() Observer
