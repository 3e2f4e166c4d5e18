package events

import (
	"context"
	"math/rand"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/reqguard/reqguard/guardlib"
	"golang.org/x/time/rate"
)

const (
	// DefaultBufferSize is a capacity of each processor channel.
	DefaultBufferSize = 256

	// DefaultDeliveryTimeout bounds a wait for buffer space of events which
	// are never dropped eagerly.
	DefaultDeliveryTimeout = 2 * time.Second
)

// EventStream is a default implementation of the [guardlib.EventStream]
// interface.
//
// EventStream manages a set of goroutines, observers. An event is routed
// to a goroutine by a hash of its stream id so all events of a request are
// processed in order by the same observer.
//
// High-frequency events (sanitized fields, speed delays and request
// finishes) never block: if a buffer is full, they are dropped and counted.
// Security decisions wait for buffer space, but not longer than
// DefaultDeliveryTimeout or until a context is done.
type EventStream struct {
	ctx             context.Context
	ctxCancel       context.CancelFunc
	chans           []chan guardlib.Event
	logger          guardlib.Logger
	sometimes       *rate.Sometimes
	deliveryTimeout time.Duration

	// pointer because EventStream has value receivers
	dropped *atomic.Uint64
}

// Send implements guardlib.EventStream.
func (e EventStream) Send(ctx context.Context, evt guardlib.Event) {
	var chanNo uint32

	if streamID := evt.StreamID(); streamID != "" {
		chanNo = xxhash.ChecksumString32(streamID)
	} else {
		chanNo = rand.Uint32() //nolint: gosec
	}

	ch := e.chans[int(chanNo)%len(e.chans)]

	if isHighFrequency(evt) {
		select {
		case <-ctx.Done():
		case <-e.ctx.Done():
		case ch <- evt:
		default:
			e.drop(evt)
		}

		return
	}

	timer := time.NewTimer(e.deliveryTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-e.ctx.Done():
	case ch <- evt:
	case <-timer.C:
		e.drop(evt)
	}
}

func (e EventStream) drop(evt guardlib.Event) {
	dropped := e.dropped.Add(1)

	e.sometimes.Do(func() {
		e.logger.
			BindStr("category", string(evt.Category())).
			BindInt("dropped", int(dropped)).
			Warning("event buffer is full, events are dropped")
	})
}

func isHighFrequency(evt guardlib.Event) bool {
	switch evt.(type) {
	case guardlib.EventSanitizedField, guardlib.EventSpeedDelayed, guardlib.EventRequestFinish:
		return true
	default:
		return false
	}
}

// Dropped returns a number of events which were dropped since start.
func (e EventStream) Dropped() uint64 {
	return e.dropped.Load()
}

// Shutdown stops an event stream pipeline.
func (e EventStream) Shutdown() {
	e.ctxCancel()
}

// NewEventStream builds a new default event stream.
//
// If you give an empty array of observers, then NoopObserver is going
// to be used. If you give many observers, then they will process a
// message concurrently.
func NewEventStream(observerFactories []ObserverFactory, logger guardlib.Logger) EventStream {
	if len(observerFactories) == 0 {
		observerFactories = append(observerFactories, NewNoopObserver)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rv := EventStream{
		ctx:       ctx,
		ctxCancel: cancel,
		chans:     make([]chan guardlib.Event, runtime.NumCPU()),
		logger:    logger.Named("event-stream"),
		sometimes: &rate.Sometimes{Interval: 10 * time.Second}, //nolint: gomnd
		dropped:   &atomic.Uint64{},

		deliveryTimeout: DefaultDeliveryTimeout,
	}

	for i := range rv.chans {
		rv.chans[i] = make(chan guardlib.Event, DefaultBufferSize)

		if len(observerFactories) == 1 {
			go eventStreamProcessor(ctx, rv.chans[i], observerFactories[0]())
		} else {
			go eventStreamProcessor(ctx, rv.chans[i], newMultiObserver(observerFactories))
		}
	}

	return rv
}

func eventStreamProcessor(ctx context.Context, eventChan <-chan guardlib.Event, observer Observer) { //nolint: cyclop
	defer observer.Shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-eventChan:
			switch typedEvt := evt.(type) {
			case guardlib.EventRateLimited:
				observer.EventRateLimited(typedEvt)
			case guardlib.EventThreat:
				observer.EventThreat(typedEvt)
			case guardlib.EventCSRFFailed:
				observer.EventCSRFFailed(typedEvt)
			case guardlib.EventSanitizedField:
				observer.EventSanitizedField(typedEvt)
			case guardlib.EventAuth:
				observer.EventAuth(typedEvt)
			case guardlib.EventTimeout:
				observer.EventTimeout(typedEvt)
			case guardlib.EventMalformedInput:
				observer.EventMalformedInput(typedEvt)
			case guardlib.EventSpeedDelayed:
				observer.EventSpeedDelayed(typedEvt)
			case guardlib.EventConcurrencyLimited:
				observer.EventConcurrencyLimited(typedEvt)
			case guardlib.EventRequestFinish:
				observer.EventRequestFinish(typedEvt)
			}
		}
	}
}
