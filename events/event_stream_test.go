package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/reqguard/reqguard/guardlib"
	"github.com/reqguard/reqguard/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ObserverMock struct {
	mock.Mock
}

func (o *ObserverMock) EventRateLimited(evt guardlib.EventRateLimited)   { o.Called(evt) }
func (o *ObserverMock) EventThreat(evt guardlib.EventThreat)             { o.Called(evt) }
func (o *ObserverMock) EventCSRFFailed(evt guardlib.EventCSRFFailed)     { o.Called(evt) }
func (o *ObserverMock) EventAuth(evt guardlib.EventAuth)                 { o.Called(evt) }
func (o *ObserverMock) EventTimeout(evt guardlib.EventTimeout)           { o.Called(evt) }
func (o *ObserverMock) EventSpeedDelayed(evt guardlib.EventSpeedDelayed) { o.Called(evt) }
func (o *ObserverMock) Shutdown()                                        { o.Called() }

func (o *ObserverMock) EventSanitizedField(evt guardlib.EventSanitizedField) {
	o.Called(evt)
}

func (o *ObserverMock) EventMalformedInput(evt guardlib.EventMalformedInput) {
	o.Called(evt)
}

func (o *ObserverMock) EventConcurrencyLimited(evt guardlib.EventConcurrencyLimited) {
	o.Called(evt)
}

func (o *ObserverMock) EventRequestFinish(evt guardlib.EventRequestFinish) {
	o.Called(evt)
}

type EventStreamTestSuite struct {
	suite.Suite

	ctx       context.Context
	ctxCancel context.CancelFunc
	info      *guardlib.RequestInfo
	mutex     sync.Mutex
	observers []*ObserverMock
	stream    EventStream
}

func (suite *EventStreamTestSuite) SetupTest() {
	suite.ctx, suite.ctxCancel = context.WithCancel(context.Background())
	suite.info = requestInfo("/auth/signin")
	suite.observers = nil

	factory := func() Observer {
		suite.mutex.Lock()
		defer suite.mutex.Unlock()

		observer := &ObserverMock{}
		observer.On("Shutdown").Maybe()
		suite.observers = append(suite.observers, observer)

		return observer
	}

	suite.stream = NewEventStream([]ObserverFactory{factory}, logger.NewNoopLogger())
}

func (suite *EventStreamTestSuite) TearDownTest() {
	suite.stream.Shutdown()
	suite.ctxCancel()
}

func (suite *EventStreamTestSuite) expect(method string, evt guardlib.Event, done chan struct{}) {
	suite.mutex.Lock()
	defer suite.mutex.Unlock()

	for _, observer := range suite.observers {
		observer.On(method, evt).Maybe().Run(func(_ mock.Arguments) {
			close(done)
		})
	}
}

func (suite *EventStreamTestSuite) TestRouting() {
	testData := map[string]guardlib.Event{
		"EventRateLimited":        guardlib.NewEventRateLimited(suite.info, guardlib.ClassAuth, 5, time.Minute),
		"EventThreat":             guardlib.NewEventThreat(suite.info, ".env"),
		"EventCSRFFailed":         guardlib.NewEventCSRFFailed(suite.info, "missing"),
		"EventSanitizedField":     guardlib.NewEventSanitizedField(suite.info, "name", "<b", "&lt;b"),
		"EventAuth":               guardlib.NewEventAuth(suite.info, "signin", true, ""),
		"EventTimeout":            guardlib.NewEventTimeout(suite.info, time.Second),
		"EventMalformedInput":     guardlib.NewEventMalformedInput(suite.info, "text/plain", "unsupported"),
		"EventSpeedDelayed":       guardlib.NewEventSpeedDelayed(suite.info, time.Second, 60),
		"EventConcurrencyLimited": guardlib.NewEventConcurrencyLimited(suite.info),
		"EventRequestFinish":      guardlib.NewEventRequestFinish(suite.info, http.StatusOK, time.Second),
	}

	for method, evt := range testData {
		done := make(chan struct{})
		suite.expect(method, evt, done)
		suite.stream.Send(suite.ctx, evt)

		select {
		case <-done:
		case <-time.After(time.Second):
			suite.FailNow("event was not delivered", method)
		}
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	suite.Run(t, &EventStreamTestSuite{})
}

type blockingObserver struct {
	noopObserver

	release chan struct{}
	csrf    chan guardlib.EventCSRFFailed
}

func (b blockingObserver) EventSanitizedField(_ guardlib.EventSanitizedField) {
	<-b.release
}

func (b blockingObserver) EventCSRFFailed(evt guardlib.EventCSRFFailed) {
	b.csrf <- evt
}

func TestEventStreamDropsHighFrequencyEvents(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	stream := NewEventStream([]ObserverFactory{
		func() Observer { return blockingObserver{release: release} },
	}, logger.NewNoopLogger())

	defer stream.Shutdown()
	defer close(release)

	info := requestInfo("/api/profile")
	sent := make(chan struct{})

	go func() {
		defer close(sent)

		for i := 0; i < 100*DefaultBufferSize; i++ {
			stream.Send(context.Background(), guardlib.NewEventSanitizedField(info, "name", "<b>", ""))
		}
	}()

	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("send has blocked")
	}

	if stream.Dropped() == 0 {
		t.Fatal("overflowing events are not counted")
	}
}

func TestEventStreamDeliversSecurityDecisions(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	csrf := make(chan guardlib.EventCSRFFailed, 1)
	stream := NewEventStream([]ObserverFactory{
		func() Observer { return blockingObserver{release: release, csrf: csrf} },
	}, logger.NewNoopLogger())

	defer stream.Shutdown()

	info := requestInfo("/api/profile")

	for i := 0; i < 2*DefaultBufferSize; i++ {
		stream.Send(context.Background(), guardlib.NewEventSanitizedField(info, "name", "<b>", ""))
	}

	dropped := stream.Dropped()
	assert.NotZero(t, dropped)

	evt := guardlib.NewEventCSRFFailed(info, "token mismatch")
	sent := make(chan struct{})

	go func() {
		defer close(sent)
		stream.Send(context.Background(), evt)
	}()

	time.Sleep(100 * time.Millisecond)
	close(release)

	select {
	case got := <-csrf:
		assert.Equal(t, evt, got)
	case <-time.After(5 * time.Second):
		t.Fatal("csrf failure was not delivered")
	}

	<-sent
	assert.Equal(t, dropped, stream.Dropped())
}

func TestEventStreamDeliveryIsBounded(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	stream := NewEventStream([]ObserverFactory{
		func() Observer { return blockingObserver{release: release} },
	}, logger.NewNoopLogger())
	stream.deliveryTimeout = 50 * time.Millisecond

	defer stream.Shutdown()
	defer close(release)

	info := requestInfo("/.env")

	for i := 0; i < 2*DefaultBufferSize; i++ {
		stream.Send(context.Background(), guardlib.NewEventSanitizedField(info, "name", "<b>", ""))
	}

	dropped := stream.Dropped()
	started := time.Now()

	stream.Send(context.Background(), guardlib.NewEventThreat(info, ".env"))

	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, dropped+1, stream.Dropped())
}

func requestInfo(path string) *guardlib.RequestInfo {
	return guardlib.NewRequestInfo(httptest.NewRequest(http.MethodGet, path, nil), false)
}
