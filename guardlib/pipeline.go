package guardlib

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Pipeline is an ordered chain of security stages which every request
// passes before the application handler.
type Pipeline struct {
	ctx             context.Context
	ctxCancel       context.CancelFunc
	streamWaitGroup sync.WaitGroup
	shutdownOnce    sync.Once

	workerPool        *ants.PoolWithFunc
	threats           ThreatSignatures
	rates             *RateController
	tokens            *TokenService
	sessions          SessionResolver
	sanitizer         *Sanitizer
	sensitiveFields   map[string]bool
	blocklist         IPBlocklist
	allowlist         IPBlocklist
	notFound          http.Handler
	trustProxyHeaders bool
	config            PipelineConfig

	eventStream EventStream
	logger      Logger
}

type requestTask struct {
	w      *bufferedWriter
	r      *http.Request
	next   http.Handler
	info   *RequestInfo
	logger Logger
	done   chan struct{}
}

// Middleware wraps an application handler.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.Handle(w, r, next)
	})
}

// Handle runs the chain for a single request. If every stage passes,
// the request is dispatched to next.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request, next http.Handler) {
	p.streamWaitGroup.Add(1)
	defer p.streamWaitGroup.Done()

	info := NewRequestInfo(r, p.trustProxyHeaders)
	logger := p.logger.
		BindStr("request", info.ID).
		BindStr("ip", info.hashedClient)
	status := http.StatusServiceUnavailable

	defer func() {
		p.eventStream.Send(p.ctx, NewEventRequestFinish(info, status, time.Since(info.Started)))
	}()

	if p.ctx.Err() != nil {
		writeJSONError(w, status, "service is shutting down")

		return
	}

	ctx, cancel := context.WithTimeout(context.WithValue(r.Context(), contextKeyInfo, info),
		p.config.RequestTimeout)
	defer cancel()

	task := &requestTask{
		w:      newBufferedWriter(),
		r:      r.WithContext(ctx),
		next:   next,
		info:   info,
		logger: logger,
		done:   make(chan struct{}),
	}

	err := p.workerPool.Invoke(task)

	switch {
	case err == nil:
	case errors.Is(err, ants.ErrPoolOverload):
		logger.InfoError("request is rejected", ErrConcurrencyLimited)
		p.eventStream.Send(p.ctx, NewEventConcurrencyLimited(info))
		writeJSONError(w, status, "too many concurrent requests")

		return
	default:
		logger.WarningError("cannot schedule a request", err)
		writeJSONError(w, status, "service is shutting down")

		return
	}

	select {
	case <-task.done:
		if ctx.Err() == nil {
			status = task.w.flushTo(w)

			return
		}
	case <-ctx.Done():
	}

	task.w.abandon()

	if errors.Is(ctx.Err(), context.Canceled) {
		status = 499 //nolint: gomnd
		logger.Debug("client has gone away")

		return
	}

	logger.InfoError("request is rejected", ErrTimeout)
	p.eventStream.Send(p.ctx, NewEventTimeout(info, time.Since(info.Started)))
	writeJSONError(w, status, "request timed out")
}

// TokenHandler serves GET /csrf-token. It establishes an anonymous session
// if a request has none and returns a live token of the session.
func (p *Pipeline) TokenHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")

			return
		}

		sessionID, ok := p.sessions.Resolve(r)
		if !ok {
			var err error

			if sessionID, err = p.sessions.Establish(w, r); err != nil {
				p.logger.WarningError("cannot establish a session", err)
				writeJSONError(w, http.StatusInternalServerError, "internal error")

				return
			}
		}

		token, err := p.tokens.Current(r.Context(), sessionID)
		if err != nil {
			p.logger.WarningError("cannot issue a token", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")

			return
		}

		w.Header().Set(p.config.CSRFHeader, token)
		writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
	})
}

// RecordAuth reports an outcome of the authentication action to the event
// stream. Request has to be one which passed the pipeline.
func (p *Pipeline) RecordAuth(r *http.Request, action string, success bool, reason string) {
	info, ok := InfoFromContext(r.Context())
	if !ok {
		info = NewRequestInfo(r, p.trustProxyHeaders)
	}

	p.eventStream.Send(p.ctx, NewEventAuth(info, action, success, reason))
}

// Shutdown waits for in-flight requests and releases resources. Requests
// which come after are rejected with 503.
func (p *Pipeline) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.ctxCancel()
		p.streamWaitGroup.Wait()
		p.workerPool.Release()

		if p.blocklist != nil {
			p.blocklist.Shutdown()
		}

		if p.allowlist != nil {
			p.allowlist.Shutdown()
		}
	})
}

func (p *Pipeline) runTask(task *requestTask) {
	defer close(task.done)

	defer func() {
		if rec := recover(); rec != nil {
			task.logger.BindStr("panic", fmt.Sprint(rec)).Warning("stage has panicked")

			if !task.w.wroteHeader() {
				writeJSONError(task.w, http.StatusInternalServerError, "internal error")
			}
		}
	}()

	p.runChain(task.w, task.r, task.next, task.info, task.logger)
}

func (p *Pipeline) runChain(w *bufferedWriter, r *http.Request, next http.Handler,
	info *RequestInfo, logger Logger,
) {
	if !p.checkThreat(w, r, info, logger) {
		return
	}

	if !p.checkRate(w, r, info, logger) {
		return
	}

	if !p.applyDelay(r, info, logger) {
		return
	}

	body, ok := p.parseBody(w, r, info, logger)
	if !ok {
		return
	}

	if !p.checkCSRF(w, r, info, logger) {
		return
	}

	if !p.sanitize(w, r, body, info, logger) {
		return
	}

	next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyBody, body)))
}

func (p *Pipeline) checkThreat(w http.ResponseWriter, r *http.Request, info *RequestInfo, logger Logger) bool {
	switch {
	case p.allowlist != nil && (info.ClientIP == nil || !p.allowlist.Contains(info.ClientIP)):
		logger.Info("ip was rejected by allowlist")
		p.eventStream.Send(p.ctx, NewEventIPAllowlisted(info))
	case p.blocklist != nil && info.ClientIP != nil && p.blocklist.Contains(info.ClientIP):
		logger.Info("ip was blocklisted")
		p.eventStream.Send(p.ctx, NewEventIPBlocklisted(info))
	default:
		verdict := p.threats.Classify(r.URL.Path)
		if !verdict.Suspicious {
			verdict = p.threats.Classify(r.URL.EscapedPath())
		}

		if !verdict.Suspicious {
			return true
		}

		logger.BindStr("signature", verdict.Signature).
			InfoError("request is rejected", ErrThreatDetected)
		p.eventStream.Send(p.ctx, NewEventThreat(info, verdict.Signature))
	}

	p.notFound.ServeHTTP(w, r)

	return false
}

func (p *Pipeline) checkRate(w http.ResponseWriter, r *http.Request, info *RequestInfo, logger Logger) bool {
	classes := make([]string, 0, 2) //nolint: gomnd

	if class, ok := p.rates.ClassFor(info.Path); ok {
		classes = append(classes, class.Name)
	}

	classes = append(classes, ClassGeneral)

	for _, class := range classes {
		decision, err := p.rates.Admit(r.Context(), info.ClientKey, class)
		if err != nil {
			logger.WarningError("cannot check a rate limit, request is admitted", err)

			continue
		}

		if decision.Allowed {
			continue
		}

		setRateLimitHeaders(w, decision)

		logger.BindStr("class", class).InfoError("request is rejected", ErrRateLimited)
		p.eventStream.Send(p.ctx, NewEventRateLimited(info, class, decision.Max, decision.RetryAfter))
		writeJSONError(w, http.StatusTooManyRequests, "too many requests")

		return false
	}

	return true
}

func (p *Pipeline) applyDelay(r *http.Request, info *RequestInfo, logger Logger) bool {
	delay, seen, err := p.rates.DelayFor(r.Context(), info.ClientKey, info.Path)

	switch {
	case err != nil:
		logger.WarningError("cannot compute a delay, request is not delayed", err)

		return true
	case delay <= 0:
		return true
	}

	p.eventStream.Send(p.ctx, NewEventSpeedDelayed(info, delay, seen))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

func (p *Pipeline) parseBody(w http.ResponseWriter, r *http.Request, info *RequestInfo,
	logger Logger,
) (*ParsedBody, bool) {
	body, err := readBody(r, p.config.MaxBodySize)

	switch {
	case err == nil:
		return body, true
	case errors.Is(err, ErrBodyTooLarge):
		logger.Info("request body is too large")
		p.eventStream.Send(p.ctx, NewEventMalformedInput(info, r.Header.Get("Content-Type"), err.Error()))
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body is too large")
	default:
		logger.InfoError("malformed request", err)
		p.eventStream.Send(p.ctx, NewEventMalformedInput(info, r.Header.Get("Content-Type"), err.Error()))
		writeJSONError(w, http.StatusBadRequest, "malformed request")
	}

	return nil, false
}

func (p *Pipeline) checkCSRF(w *bufferedWriter, r *http.Request, info *RequestInfo, logger Logger) bool {
	sessionID, hasSession := p.sessions.Resolve(r)
	info.SessionID = sessionID

	if p.isProtected(r) {
		if err := p.tokens.Check(r.Context(), r.Header.Get(p.config.CSRFHeader), sessionID); err != nil {
			logger.InfoError("anti-forgery check has failed", err)
			p.eventStream.Send(p.ctx, NewEventCSRFFailed(info, err.Error()))
			writeJSONError(w, http.StatusForbidden, "invalid csrf token")

			return false
		}
	}

	if hasSession {
		token, err := p.tokens.Current(r.Context(), sessionID)
		if err != nil {
			logger.WarningError("cannot get a current token", err)
		} else {
			w.attachToken(p.config.CSRFHeader, token)
		}
	}

	return true
}

func (p *Pipeline) isProtected(r *http.Request) bool {
	if isSafeMethod(r.Method) {
		return false
	}

	for _, prefix := range p.config.ProtectedPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}

	return false
}

func (p *Pipeline) sanitize(w http.ResponseWriter, r *http.Request, body *ParsedBody,
	info *RequestInfo, logger Logger,
) bool {
	var changes []FieldChange

	switch body.Kind { //nolint: exhaustive
	case BodyJSON:
		body.JSON, changes = p.sanitizer.JSON(body.JSON)
	case BodyForm:
		changes = p.sanitizer.Fields(body.Form)
	}

	if err := body.attach(r, len(changes) > 0); err != nil {
		logger.WarningError("cannot encode sanitized body", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")

		return false
	}

	query := r.URL.Query()
	if queryChanges := p.sanitizer.Fields(query); len(queryChanges) > 0 {
		r.URL.RawQuery = query.Encode()
		changes = append(changes, queryChanges...)
	}

	for _, change := range changes {
		if p.sensitiveFields[FieldName(change.Path)] {
			p.eventStream.Send(p.ctx, NewEventSanitizedSensitiveField(info, change.Path))
		} else {
			p.eventStream.Send(p.ctx, NewEventSanitizedField(info, change.Path, change.Before, change.After))
		}
	}

	if len(changes) > 0 {
		logger.BindInt("fields", len(changes)).Debug("input was sanitized")
	}

	return true
}

// setRateLimitHeaders is called for rejected requests only. Admitted
// requests carry no limiter headers so a not-found response of the router
// looks exactly like a rejected threat.
func setRateLimitHeaders(w http.ResponseWriter, decision RateDecision) {
	w.Header().Set("RateLimit-Limit", strconv.FormatInt(decision.Max, 10))
	w.Header().Set("RateLimit-Remaining", "0")
	w.Header().Set("Retry-After", strconv.FormatInt(int64(decision.RetryAfter/time.Second), 10))
}

func writeJSON(w http.ResponseWriter, code int, value interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(value) //nolint: errcheck, errchkjson
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// bufferedWriter keeps a response in memory until the chain finishes so a
// timed out request never gets a partial response.
type bufferedWriter struct {
	mutex     sync.Mutex
	header    http.Header
	body      bytes.Buffer
	code      int
	abandoned bool

	tokenHeader string
	token       string
}

func (b *bufferedWriter) Header() http.Header {
	return b.header
}

func (b *bufferedWriter) WriteHeader(code int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.abandoned || b.code != 0 {
		return
	}

	b.code = code
}

func (b *bufferedWriter) Write(data []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.abandoned {
		return 0, http.ErrHandlerTimeout
	}

	if b.code == 0 {
		b.code = http.StatusOK
	}

	return b.body.Write(data) //nolint: wrapcheck
}

func (b *bufferedWriter) wroteHeader() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.code != 0
}

// attachToken sets a session token header on flush. Not-found responses
// never get it: threats are rejected before sessions are resolved.
func (b *bufferedWriter) attachToken(header, token string) {
	b.mutex.Lock()
	b.tokenHeader = header
	b.token = token
	b.mutex.Unlock()
}

func (b *bufferedWriter) abandon() {
	b.mutex.Lock()
	b.abandoned = true
	b.mutex.Unlock()
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	dst := w.Header()
	for key, values := range b.header {
		dst[key] = values
	}

	if b.code == 0 {
		b.code = http.StatusOK
	}

	if b.token != "" && b.code != http.StatusNotFound && dst.Get(b.tokenHeader) == "" {
		dst.Set(b.tokenHeader, b.token)
	}

	w.WriteHeader(b.code)
	w.Write(b.body.Bytes()) //nolint: errcheck

	return b.code
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{
		header: http.Header{},
	}
}

// NewPipeline makes a new pipeline instance.
func NewPipeline(opts PipelineOpts) (*Pipeline, error) {
	if err := opts.valid(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	config := opts.getConfig()

	rates, err := NewRateController(opts.RateStore, opts.getLimiterClasses(),
		opts.getSpeedPolicy(), opts.getNow())
	if err != nil {
		return nil, fmt.Errorf("cannot build rate controller: %w", err)
	}

	tokens, err := NewTokenService(TokenServiceOpts{
		Secret:      opts.Secret,
		Store:       opts.TokenStore,
		MaxAge:      config.CSRFMaxAge,
		SingleUse:   config.CSRFSingleUse,
		ReplayCache: opts.AntiReplayCache,
		Now:         opts.getNow(),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot build token service: %w", err)
	}

	sessions := opts.Sessions
	if sessions == nil {
		if sessions, err = NewCookieSessions(opts.Secret, DefaultSessionCookie, opts.SecureCookies); err != nil {
			return nil, fmt.Errorf("cannot build session resolver: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	pipeline := &Pipeline{
		ctx:               ctx,
		ctxCancel:         cancel,
		threats:           opts.getThreatSignatures(),
		rates:             rates,
		tokens:            tokens,
		sessions:          sessions,
		sanitizer:         NewSanitizer(),
		sensitiveFields:   make(map[string]bool, len(config.SensitiveFields)),
		blocklist:         opts.IPBlocklist,
		allowlist:         opts.IPAllowlist,
		notFound:          opts.getNotFoundHandler(),
		trustProxyHeaders: opts.TrustProxyHeaders,
		config:            config,
		eventStream:       opts.EventStream,
		logger:            opts.getLogger("pipeline"),
	}

	for _, field := range config.SensitiveFields {
		pipeline.sensitiveFields[field] = true
	}

	pool, err := ants.NewPoolWithFunc(opts.getConcurrency(),
		func(arg interface{}) {
			pipeline.runTask(arg.(*requestTask)) //nolint: forcetypeassert
		},
		ants.WithLogger(opts.getLogger("ants")),
		ants.WithNonblocking(true))
	if err != nil {
		cancel()

		return nil, fmt.Errorf("cannot create worker pool: %w", err)
	}

	pipeline.workerPool = pool

	return pipeline, nil
}
