package stats

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/reqguard/reqguard/events"
	"github.com/reqguard/reqguard/guardlib"
	statsd "github.com/smira/go-statsd"
)

type statsdProcessor struct {
	client *statsd.Client
}

func (s statsdProcessor) EventRateLimited(evt guardlib.EventRateLimited) {
	s.client.Incr(MetricRateLimited, 1, statsd.StringTag(TagClass, evt.Class))
}

func (s statsdProcessor) EventThreat(evt guardlib.EventThreat) {
	s.client.Incr(MetricThreats, 1,
		statsd.StringTag(TagThreat, threatTag(evt.Signature, evt.IsBlockList)))
}

func (s statsdProcessor) EventCSRFFailed(evt guardlib.EventCSRFFailed) {
	s.client.Incr(MetricCSRFFailures, 1, statsd.StringTag(TagMethod, evt.Method))
}

func (s statsdProcessor) EventSanitizedField(evt guardlib.EventSanitizedField) {
	s.client.Incr(MetricSanitizedFields, 1,
		statsd.StringTag(TagRedacted, boolTag(evt.Redacted)))
}

func (s statsdProcessor) EventAuth(evt guardlib.EventAuth) {
	s.client.Incr(MetricAuth, 1,
		statsd.StringTag(TagAction, evt.Action),
		statsd.StringTag(TagOutcome, evt.Outcome()))
}

func (s statsdProcessor) EventTimeout(_ guardlib.EventTimeout) {
	s.client.Incr(MetricTimeouts, 1)
}

func (s statsdProcessor) EventMalformedInput(_ guardlib.EventMalformedInput) {
	s.client.Incr(MetricMalformedInput, 1)
}

func (s statsdProcessor) EventSpeedDelayed(evt guardlib.EventSpeedDelayed) {
	s.client.Incr(MetricSpeedDelayed, 1)
	s.client.PrecisionTiming(MetricSpeedDelay, evt.Delay)
}

func (s statsdProcessor) EventConcurrencyLimited(_ guardlib.EventConcurrencyLimited) {
	s.client.Incr(MetricConcurrencyLimited, 1)
}

func (s statsdProcessor) EventRequestFinish(evt guardlib.EventRequestFinish) {
	s.client.Incr(MetricRequests, 1,
		statsd.StringTag(TagMethod, evt.Method),
		statsd.StringTag(TagStatus, statusClass(evt.Status)))
	s.client.PrecisionTiming(MetricRequestDuration, evt.Duration,
		statsd.StringTag(TagMethod, evt.Method),
		statsd.IntTag("code", evt.Status))
}

func (s statsdProcessor) Shutdown() {}

// StatsdFactory is a factory of [events.Observer] which push metrics to
// StatsD. All observers share the same client.
type StatsdFactory struct {
	client *statsd.Client
}

// Make builds a new observer.
func (s StatsdFactory) Make() events.Observer {
	return statsdProcessor{
		client: s.client,
	}
}

// Close flushes pending metrics and stops the client.
func (s StatsdFactory) Close() error {
	return s.client.Close() //nolint: wrapcheck
}

// NewStatsd builds an events.ObserverFactory that sends events to
// StatsD. tagFormat is one of influxdb, datadog or graphite.
func NewStatsd(address string, logger guardlib.Logger, metricPrefix, tagFormat string) (StatsdFactory, error) {
	options := []statsd.Option{
		statsd.MetricPrefix(metricPrefix),
		statsd.Logger(logger.Named("statsd")),
	}

	switch strings.ToLower(tagFormat) {
	case "influxdb":
		options = append(options, statsd.TagStyle(statsd.TagFormatInfluxDB))
	case "datadog":
		options = append(options, statsd.TagStyle(statsd.TagFormatDatadog))
	case "graphite":
		options = append(options, statsd.TagStyle(statsd.TagFormatGraphite))
	default:
		return StatsdFactory{}, fmt.Errorf("unknown tag format %s", strconv.Quote(tagFormat))
	}

	return StatsdFactory{
		client: statsd.NewClient(address, options...),
	}, nil
}
