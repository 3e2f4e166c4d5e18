package events

import (
	"sync"

	"github.com/reqguard/reqguard/guardlib"
)

type multiObserver struct {
	observers []Observer
}

func (m multiObserver) EventRateLimited(evt guardlib.EventRateLimited) {
	m.each(func(o Observer) { o.EventRateLimited(evt) })
}

func (m multiObserver) EventThreat(evt guardlib.EventThreat) {
	m.each(func(o Observer) { o.EventThreat(evt) })
}

func (m multiObserver) EventCSRFFailed(evt guardlib.EventCSRFFailed) {
	m.each(func(o Observer) { o.EventCSRFFailed(evt) })
}

func (m multiObserver) EventSanitizedField(evt guardlib.EventSanitizedField) {
	m.each(func(o Observer) { o.EventSanitizedField(evt) })
}

func (m multiObserver) EventAuth(evt guardlib.EventAuth) {
	m.each(func(o Observer) { o.EventAuth(evt) })
}

func (m multiObserver) EventTimeout(evt guardlib.EventTimeout) {
	m.each(func(o Observer) { o.EventTimeout(evt) })
}

func (m multiObserver) EventMalformedInput(evt guardlib.EventMalformedInput) {
	m.each(func(o Observer) { o.EventMalformedInput(evt) })
}

func (m multiObserver) EventSpeedDelayed(evt guardlib.EventSpeedDelayed) {
	m.each(func(o Observer) { o.EventSpeedDelayed(evt) })
}

func (m multiObserver) EventConcurrencyLimited(evt guardlib.EventConcurrencyLimited) {
	m.each(func(o Observer) { o.EventConcurrencyLimited(evt) })
}

func (m multiObserver) EventRequestFinish(evt guardlib.EventRequestFinish) {
	m.each(func(o Observer) { o.EventRequestFinish(evt) })
}

func (m multiObserver) Shutdown() {
	m.each(func(o Observer) { o.Shutdown() })
}

func (m multiObserver) each(callback func(Observer)) {
	wg := &sync.WaitGroup{}
	wg.Add(len(m.observers))

	for _, o := range m.observers {
		go func(o Observer) {
			defer wg.Done()

			callback(o)
		}(o)
	}

	wg.Wait()
}

func newMultiObserver(factories []ObserverFactory) Observer {
	observers := make([]Observer, len(factories))

	for i, f := range factories {
		observers[i] = f()
	}

	return multiObserver{
		observers: observers,
	}
}
