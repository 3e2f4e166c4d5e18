package events

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/reqguard/reqguard/guardlib"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AllCategories is a list of categories which get a file of their own.
var AllCategories = []guardlib.Category{
	guardlib.CategoryRateLimit,
	guardlib.CategoryThreat,
	guardlib.CategoryCSRFFail,
	guardlib.CategorySanitizedField,
	guardlib.CategoryAuth,
	guardlib.CategoryTimeout,
	guardlib.CategoryMalformed,
	guardlib.CategorySpeedDelay,
	guardlib.CategoryConcurrency,
	guardlib.CategoryRequest,
}

// swallowWriter never returns errors to zerolog. Sink failures are counted
// and reported to the application log from time to time.
type swallowWriter struct {
	writer    io.Writer
	name      string
	failures  *atomic.Uint64
	sometimes *rate.Sometimes
	logger    guardlib.Logger
}

func (s swallowWriter) Write(p []byte) (int, error) {
	if _, err := s.writer.Write(p); err != nil {
		failures := s.failures.Add(1)

		s.sometimes.Do(func() {
			s.logger.
				BindStr("sink", s.name).
				BindInt("failures", int(failures)).
				WarningError("cannot write a security event", err)
		})
	}

	return len(p), nil
}

// LogSink writes events as JSON lines. Each category may go to a separate
// writer.
type LogSink struct {
	loggers  map[guardlib.Category]zerolog.Logger
	closers  []io.Closer
	failures *atomic.Uint64
}

// Failures returns a number of failed writes.
func (l *LogSink) Failures() uint64 {
	return l.failures.Load()
}

// Close closes all files of the sink.
func (l *LogSink) Close() error {
	var errs []error

	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Factory returns an observer factory. All observers share the sink.
func (l *LogSink) Factory() ObserverFactory {
	return func() Observer {
		return logObserver{sink: l}
	}
}

func (l *LogSink) write(evt guardlib.Event, fill func(*zerolog.Event)) {
	logger, ok := l.loggers[evt.Category()]
	if !ok {
		return
	}

	entry := logger.Info().
		Time("timestamp", evt.Timestamp()).
		Str("request_id", evt.StreamID()).
		Str("category", string(evt.Category())).
		Str("client", evt.ClientID()).
		Str("route", evt.Route()).
		Str("outcome", evt.Outcome())

	if fill != nil {
		fill(entry)
	}

	entry.Msg(evt.Detail())
}

func newLogSink() *LogSink {
	return &LogSink{
		loggers:  make(map[guardlib.Category]zerolog.Logger, len(AllCategories)),
		failures: &atomic.Uint64{},
	}
}

func (l *LogSink) attach(category guardlib.Category, name string, writer io.Writer,
	sometimes *rate.Sometimes, logger guardlib.Logger,
) {
	l.loggers[category] = zerolog.New(zerolog.SyncWriter(swallowWriter{
		writer:    writer,
		name:      name,
		failures:  l.failures,
		sometimes: sometimes,
		logger:    logger,
	}))
}

// NewFileLogSink opens (or creates) a file per category in dir. Files are
// appended to.
func NewFileLogSink(dir string, logger guardlib.Logger) (*LogSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil { //nolint: gomnd
		return nil, fmt.Errorf("cannot create directory %s: %w", dir, err)
	}

	logger = logger.Named("log-sink")
	sink := newLogSink()
	sometimes := &rate.Sometimes{Interval: time.Minute}

	for _, category := range AllCategories {
		path := filepath.Join(dir, string(category)+".log")

		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) //nolint: gomnd
		if err != nil {
			sink.Close() //nolint: errcheck

			return nil, fmt.Errorf("cannot open %s: %w", path, err)
		}

		sink.closers = append(sink.closers, file)
		sink.attach(category, path, file, sometimes, logger)
	}

	return sink, nil
}

// NewConsoleLogSink writes every category into a human readable console
// writer. It is meant for development.
func NewConsoleLogSink(writer io.Writer, logger guardlib.Logger) *LogSink {
	logger = logger.Named("console-sink")
	sink := newLogSink()
	sometimes := &rate.Sometimes{Interval: time.Minute}
	console := zerolog.ConsoleWriter{
		Out:        writer,
		TimeFormat: time.RFC3339,
	}

	for _, category := range AllCategories {
		sink.attach(category, "console", console, sometimes, logger)
	}

	return sink
}

type logObserver struct {
	sink *LogSink
}

func (l logObserver) EventRateLimited(evt guardlib.EventRateLimited) {
	l.sink.write(evt, func(e *zerolog.Event) {
		e.Str("class", evt.Class).
			Int64("max", evt.Max).
			Dur("retry_after", evt.RetryAfter)
	})
}

func (l logObserver) EventThreat(evt guardlib.EventThreat) {
	l.sink.write(evt, func(e *zerolog.Event) {
		e.Str("signature", evt.Signature).
			Bool("blocklist", evt.IsBlockList)
	})
}

func (l logObserver) EventCSRFFailed(evt guardlib.EventCSRFFailed) {
	l.sink.write(evt, func(e *zerolog.Event) {
		e.Str("method", evt.Method).
			Str("reason", evt.Reason)
	})
}

func (l logObserver) EventSanitizedField(evt guardlib.EventSanitizedField) {
	l.sink.write(evt, func(e *zerolog.Event) {
		e.Str("field", evt.Field).Bool("redacted", evt.Redacted)

		if !evt.Redacted {
			e.Str("before", evt.Before).Str("after", evt.After)
		}
	})
}

func (l logObserver) EventAuth(evt guardlib.EventAuth) {
	l.sink.write(evt, func(e *zerolog.Event) {
		e.Str("action", evt.Action).
			Bool("success", evt.Success).
			Str("reason", evt.Reason)
	})
}

func (l logObserver) EventTimeout(evt guardlib.EventTimeout) {
	l.sink.write(evt, func(e *zerolog.Event) {
		e.Dur("elapsed", evt.Elapsed)
	})
}

func (l logObserver) EventMalformedInput(evt guardlib.EventMalformedInput) {
	l.sink.write(evt, func(e *zerolog.Event) {
		e.Str("content_type", evt.ContentType).
			Str("reason", evt.Reason)
	})
}

func (l logObserver) EventSpeedDelayed(evt guardlib.EventSpeedDelayed) {
	l.sink.write(evt, func(e *zerolog.Event) {
		e.Dur("delay", evt.Delay).
			Int64("seen", evt.Seen)
	})
}

func (l logObserver) EventConcurrencyLimited(evt guardlib.EventConcurrencyLimited) {
	l.sink.write(evt, nil)
}

func (l logObserver) EventRequestFinish(evt guardlib.EventRequestFinish) {
	l.sink.write(evt, func(e *zerolog.Event) {
		e.Str("method", evt.Method).
			Int("status", evt.Status).
			Dur("duration", evt.Duration)
	})
}

func (l logObserver) Shutdown() {}
