// Package guardlib is a request security pipeline for net/http servers.
//
// Every request passes an ordered chain of stages before it reaches the
// application handler:
//
//	Received -> ThreatChecked -> RateChecked -> {Delayed ->} BodyParsed ->
//	[CSRFChecked] -> Sanitized -> Dispatched
//
// Any stage may reject a request. Each decision is reported to the
// EventStream as a security event; the stream must never block a request.
//
// All mutable shared state (rate windows, anti-forgery tokens) lives behind
// RateStore and TokenStore interfaces which are injected into Pipeline. The
// signing secret and threat signatures are read-only after construction.
package guardlib

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultRequestTimeout is a deadline for the whole chain, including
	// the application handler.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultConcurrency is a size of the worker pool.
	DefaultConcurrency = 8192

	// DefaultMaxBodySize is a maximal size of the request body which is
	// parsed and sanitized.
	DefaultMaxBodySize = 1024 * 1024

	// DefaultCSRFMaxAge is a lifetime of the anti-forgery token.
	DefaultCSRFMaxAge = 24 * time.Hour

	// DefaultCSRFHeader is a header which carries the anti-forgery token in
	// both directions.
	DefaultCSRFHeader = "X-CSRF-Token"

	// DefaultSessionCookie is a name of the anonymous session cookie.
	DefaultSessionCookie = "sid"

	// UnknownClientKey is a shared bucket for requests whose client
	// identifier cannot be determined.
	UnknownClientKey = "unknown"

	// MinSecretLength is a minimal length of the signing secret in bytes.
	MinSecretLength = 32
)

var (
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrThreatDetected     = errors.New("request matches a threat signature")
	ErrForgery            = errors.New("anti-forgery token verification has failed")
	ErrNoSession          = errors.New("request has no session")
	ErrMalformedInput     = errors.New("malformed request body")
	ErrBodyTooLarge       = errors.New("request body is too large")
	ErrTimeout            = errors.New("request deadline exceeded")
	ErrConcurrencyLimited = errors.New("too many concurrent requests")
	ErrTokenNotFound      = errors.New("session has no anti-forgery token")
	ErrTokenReplayed      = errors.New("anti-forgery token was already used")

	ErrSecretIsTooShort            = errors.New("secret is too short")
	ErrEventStreamIsNotDefined     = errors.New("event stream is not defined")
	ErrLoggerIsNotDefined          = errors.New("logger is not defined")
	ErrRateStoreIsNotDefined       = errors.New("rate store is not defined")
	ErrTokenStoreIsNotDefined      = errors.New("token store is not defined")
	ErrAntiReplayCacheIsNotDefined = errors.New("anti-replay cache is required for single-use tokens")
)

// Logger defines a set of methods a logger has to implement.
type Logger interface {
	Named(name string) Logger

	BindInt(name string, value int) Logger
	BindStr(name, value string) Logger
	BindJSON(name, value string) Logger

	Printf(format string, args ...interface{})
	Info(msg string)
	Warning(msg string)
	Debug(msg string)
	InfoError(msg string, err error)
	WarningError(msg string, err error)
	DebugError(msg string, err error)
}

// EventStream is an abstraction over the security event recorder.
//
// Send is fire-and-forget: it must not block a caller and it never returns
// errors. Sink failures are absorbed by implementations.
type EventStream interface {
	Send(ctx context.Context, evt Event)
}

// Window is a state of the fixed window counter.
type Window struct {
	// Start is a first-seen time of the window. Window boundaries are
	// relative to it, not to the wall clock alignment.
	Start time.Time

	// Count is a number of admitted hits within the window.
	Count int64

	// Allowed is false if the hit was not counted because the window is
	// already at its limit.
	Allowed bool
}

// ResetAt returns a time when this window lapses.
func (w Window) ResetAt(length time.Duration) time.Time {
	return w.Start.Add(length)
}

// RateStore keeps fixed window counters. Implementations must be safe for
// concurrent use and must update a given key atomically.
type RateStore interface {
	// Take counts a hit within a window of a given length. If the stored
	// window has lapsed, it is reset to empty first. A hit is counted only
	// if limit is not positive or the counter is below the limit.
	Take(ctx context.Context, key string, length time.Duration, limit int64) (Window, error)

	// Peek returns a current window without counting a hit.
	Peek(ctx context.Context, key string, length time.Duration) (Window, error)

	// Reset drops a counter.
	Reset(ctx context.Context, key string) error
}

// TokenStore keeps a current anti-forgery token of each session.
type TokenStore interface {
	// Get returns ErrTokenNotFound if session has no live token.
	Get(ctx context.Context, sessionID string) (string, error)

	// Put replaces a session token.
	Put(ctx context.Context, sessionID, token string, ttl time.Duration) error
}

// AntiReplayCache answers if a given value was seen before.
type AntiReplayCache interface {
	SeenBefore(data []byte) bool
}

// IPBlocklist is a static list of networks.
type IPBlocklist interface {
	Contains(ip net.IP) bool
	Shutdown()
}

// SessionResolver maps a request to an opaque session identifier. Sessions
// are established by the identity provider; the pipeline only needs their
// identifiers.
type SessionResolver interface {
	// Resolve returns a session of the request, if any.
	Resolve(r *http.Request) (string, bool)

	// Establish creates a new anonymous session and attaches it to the
	// response.
	Establish(w http.ResponseWriter, r *http.Request) (string, error)
}
