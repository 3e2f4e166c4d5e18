package guardlib

import (
	"time"
)

// Category classifies security events. Sinks may route events to separate
// files or streams by category.
type Category string

const (
	CategoryRateLimit      Category = "rate-limit"
	CategoryThreat         Category = "threat"
	CategoryCSRFFail       Category = "csrf-fail"
	CategorySanitizedField Category = "sanitized-field"
	CategoryAuth           Category = "auth"
	CategoryTimeout        Category = "timeout"
	CategoryMalformed      Category = "malformed"
	CategorySpeedDelay     Category = "speed-delay"
	CategoryConcurrency    Category = "concurrency"
	CategoryRequest        Category = "request"
)

// Outcomes of the pipeline decisions.
const (
	OutcomeAllowed  = "allowed"
	OutcomeRejected = "rejected"
	OutcomeDelayed  = "delayed"
	OutcomeModified = "modified"
)

// Event is an append-only security record.
type Event interface {
	// StreamID is an identifier of the request this event belongs to.
	StreamID() string
	Timestamp() time.Time
	Category() Category

	// ClientID is a hashed client identifier, safe to store.
	ClientID() string
	Route() string
	Outcome() string
	Detail() string
}

type eventBase struct {
	streamID  string
	timestamp time.Time
	clientID  string
	route     string
}

// StreamID returns a ID of the request this event belongs to.
func (e eventBase) StreamID() string {
	return e.streamID
}

// Timestamp return a time when this event was generated.
func (e eventBase) Timestamp() time.Time {
	return e.timestamp
}

// ClientID returns a hashed identifier of the client.
func (e eventBase) ClientID() string {
	return e.clientID
}

// Route returns a path of the request.
func (e eventBase) Route() string {
	return e.route
}

func newEventBase(info *RequestInfo) eventBase {
	return eventBase{
		streamID:  info.ID,
		timestamp: time.Now(),
		clientID:  info.hashedClient,
		route:     info.Path,
	}
}

// EventRateLimited is emitted when a request exceeds a limiter class
// maximum.
type EventRateLimited struct {
	eventBase

	// Class is a name of the limiter class.
	Class string

	// Max is a class maximum.
	Max int64

	// RetryAfter is a time until the window lapses.
	RetryAfter time.Duration
}

func (e EventRateLimited) Category() Category { return CategoryRateLimit }
func (e EventRateLimited) Outcome() string    { return OutcomeRejected }

func (e EventRateLimited) Detail() string {
	return ErrRateLimited.Error() + ": class " + e.Class + ", retry after " + e.RetryAfter.String()
}

// EventThreat is emitted when a request path matches a threat signature or
// a client is on the IP blocklist.
type EventThreat struct {
	eventBase

	// Signature is a matched signature. It is empty if the client was
	// rejected by IP lists.
	Signature string

	// IsBlockList is true if client was rejected by IP blocklist and false
	// if it was not found in the allowlist.
	IsBlockList bool
}

func (e EventThreat) Category() Category { return CategoryThreat }
func (e EventThreat) Outcome() string    { return OutcomeRejected }

func (e EventThreat) Detail() string {
	switch {
	case e.Signature != "":
		return ErrThreatDetected.Error() + ": " + e.Signature
	case e.IsBlockList:
		return "client is blocklisted"
	default:
		return "client is not allowlisted"
	}
}

// EventCSRFFailed is emitted when an anti-forgery check fails.
type EventCSRFFailed struct {
	eventBase

	Method string
	Reason string
}

func (e EventCSRFFailed) Category() Category { return CategoryCSRFFail }
func (e EventCSRFFailed) Outcome() string    { return OutcomeRejected }
func (e EventCSRFFailed) Detail() string     { return e.Method + ": " + e.Reason }

// EventSanitizedField is emitted when sanitization changes a field value.
//
// Values of sensitive fields are never stored: Redacted is set and Before
// and After are empty.
type EventSanitizedField struct {
	eventBase

	Field    string
	Before   string
	After    string
	Redacted bool
}

func (e EventSanitizedField) Category() Category { return CategorySanitizedField }
func (e EventSanitizedField) Outcome() string    { return OutcomeModified }

func (e EventSanitizedField) Detail() string {
	if e.Redacted {
		return "field " + e.Field + " was sanitized"
	}

	return "field " + e.Field + ": " + e.Before + " -> " + e.After
}

// EventAuth is emitted by the application on authentication decisions.
type EventAuth struct {
	eventBase

	// Action is something like signin, signout or signup.
	Action string

	// Success defines if action has succeeded.
	Success bool
	Reason  string
}

func (e EventAuth) Category() Category { return CategoryAuth }

func (e EventAuth) Outcome() string {
	if e.Success {
		return OutcomeAllowed
	}

	return OutcomeRejected
}

func (e EventAuth) Detail() string {
	if e.Reason == "" {
		return e.Action
	}

	return e.Action + ": " + e.Reason
}

// EventTimeout is emitted when a request exceeds its deadline.
type EventTimeout struct {
	eventBase

	Elapsed time.Duration
}

func (e EventTimeout) Category() Category { return CategoryTimeout }
func (e EventTimeout) Outcome() string    { return OutcomeRejected }
func (e EventTimeout) Detail() string     { return ErrTimeout.Error() + " after " + e.Elapsed.String() }

// EventMalformedInput is emitted when a body cannot be parsed.
type EventMalformedInput struct {
	eventBase

	ContentType string
	Reason      string
}

func (e EventMalformedInput) Category() Category { return CategoryMalformed }
func (e EventMalformedInput) Outcome() string    { return OutcomeRejected }
func (e EventMalformedInput) Detail() string     { return e.ContentType + ": " + e.Reason }

// EventSpeedDelayed is emitted when a request is slowed down.
type EventSpeedDelayed struct {
	eventBase

	Delay time.Duration
	Seen  int64
}

func (e EventSpeedDelayed) Category() Category { return CategorySpeedDelay }
func (e EventSpeedDelayed) Outcome() string    { return OutcomeDelayed }
func (e EventSpeedDelayed) Detail() string     { return "delayed for " + e.Delay.String() }

// EventConcurrencyLimited is emitted when request was declined because of
// the concurrency limit of the worker pool.
type EventConcurrencyLimited struct {
	eventBase
}

func (e EventConcurrencyLimited) Category() Category { return CategoryConcurrency }
func (e EventConcurrencyLimited) Outcome() string    { return OutcomeRejected }
func (e EventConcurrencyLimited) Detail() string     { return ErrConcurrencyLimited.Error() }

// EventRequestFinish is emitted when a request has passed the pipeline and
// the application has responded.
type EventRequestFinish struct {
	eventBase

	Method   string
	Status   int
	Duration time.Duration
}

func (e EventRequestFinish) Category() Category { return CategoryRequest }
func (e EventRequestFinish) Outcome() string    { return OutcomeAllowed }
func (e EventRequestFinish) Detail() string     { return e.Method }

// NewEventRateLimited creates a new EventRateLimited event.
func NewEventRateLimited(info *RequestInfo, class string, max int64, retryAfter time.Duration) EventRateLimited {
	return EventRateLimited{
		eventBase:  newEventBase(info),
		Class:      class,
		Max:        max,
		RetryAfter: retryAfter,
	}
}

// NewEventThreat creates a new EventThreat event for a matched signature.
func NewEventThreat(info *RequestInfo, signature string) EventThreat {
	return EventThreat{
		eventBase: newEventBase(info),
		Signature: signature,
	}
}

// NewEventIPBlocklisted creates a new EventThreat for a blocklisted client.
func NewEventIPBlocklisted(info *RequestInfo) EventThreat {
	return EventThreat{
		eventBase:   newEventBase(info),
		IsBlockList: true,
	}
}

// NewEventIPAllowlisted creates a NewEventThreat event with a mark that it
// is supposed to be for allow list.
func NewEventIPAllowlisted(info *RequestInfo) EventThreat {
	return EventThreat{
		eventBase:   newEventBase(info),
		IsBlockList: false,
	}
}

// NewEventCSRFFailed creates a new EventCSRFFailed event.
func NewEventCSRFFailed(info *RequestInfo, reason string) EventCSRFFailed {
	return EventCSRFFailed{
		eventBase: newEventBase(info),
		Method:    info.Method,
		Reason:    reason,
	}
}

// NewEventSanitizedField creates a new EventSanitizedField event.
func NewEventSanitizedField(info *RequestInfo, field, before, after string) EventSanitizedField {
	return EventSanitizedField{
		eventBase: newEventBase(info),
		Field:     field,
		Before:    before,
		After:     after,
	}
}

// NewEventSanitizedSensitiveField creates an EventSanitizedField without
// values.
func NewEventSanitizedSensitiveField(info *RequestInfo, field string) EventSanitizedField {
	return EventSanitizedField{
		eventBase: newEventBase(info),
		Field:     field,
		Redacted:  true,
	}
}

// NewEventAuth creates a new EventAuth event.
func NewEventAuth(info *RequestInfo, action string, success bool, reason string) EventAuth {
	return EventAuth{
		eventBase: newEventBase(info),
		Action:    action,
		Success:   success,
		Reason:    reason,
	}
}

// NewEventTimeout creates a new EventTimeout event.
func NewEventTimeout(info *RequestInfo, elapsed time.Duration) EventTimeout {
	return EventTimeout{
		eventBase: newEventBase(info),
		Elapsed:   elapsed,
	}
}

// NewEventMalformedInput creates a new EventMalformedInput event.
func NewEventMalformedInput(info *RequestInfo, contentType, reason string) EventMalformedInput {
	return EventMalformedInput{
		eventBase:   newEventBase(info),
		ContentType: contentType,
		Reason:      reason,
	}
}

// NewEventSpeedDelayed creates a new EventSpeedDelayed event.
func NewEventSpeedDelayed(info *RequestInfo, delay time.Duration, seen int64) EventSpeedDelayed {
	return EventSpeedDelayed{
		eventBase: newEventBase(info),
		Delay:     delay,
		Seen:      seen,
	}
}

// NewEventConcurrencyLimited creates a new EventConcurrencyLimited event.
func NewEventConcurrencyLimited(info *RequestInfo) EventConcurrencyLimited {
	return EventConcurrencyLimited{
		eventBase: newEventBase(info),
	}
}

// NewEventRequestFinish creates a new EventRequestFinish event.
func NewEventRequestFinish(info *RequestInfo, status int, duration time.Duration) EventRequestFinish {
	return EventRequestFinish{
		eventBase: newEventBase(info),
		Method:    info.Method,
		Status:    status,
		Duration:  duration,
	}
}
