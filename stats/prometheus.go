package stats

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reqguard/reqguard/events"
	"github.com/reqguard/reqguard/guardlib"
)

type prometheusProcessor struct {
	factory *PrometheusFactory
}

func (p prometheusProcessor) EventRateLimited(evt guardlib.EventRateLimited) {
	p.factory.metricRateLimited.WithLabelValues(evt.Class).Inc()
}

func (p prometheusProcessor) EventThreat(evt guardlib.EventThreat) {
	p.factory.metricThreats.
		WithLabelValues(threatTag(evt.Signature, evt.IsBlockList)).
		Inc()
}

func (p prometheusProcessor) EventCSRFFailed(evt guardlib.EventCSRFFailed) {
	p.factory.metricCSRFFailures.WithLabelValues(evt.Method).Inc()
}

func (p prometheusProcessor) EventSanitizedField(evt guardlib.EventSanitizedField) {
	p.factory.metricSanitizedFields.WithLabelValues(boolTag(evt.Redacted)).Inc()
}

func (p prometheusProcessor) EventAuth(evt guardlib.EventAuth) {
	p.factory.metricAuth.WithLabelValues(evt.Action, evt.Outcome()).Inc()
}

func (p prometheusProcessor) EventTimeout(_ guardlib.EventTimeout) {
	p.factory.metricTimeouts.Inc()
}

func (p prometheusProcessor) EventMalformedInput(_ guardlib.EventMalformedInput) {
	p.factory.metricMalformedInput.Inc()
}

func (p prometheusProcessor) EventSpeedDelayed(evt guardlib.EventSpeedDelayed) {
	p.factory.metricSpeedDelayed.Inc()
	p.factory.metricSpeedDelay.Observe(evt.Delay.Seconds())
}

func (p prometheusProcessor) EventConcurrencyLimited(_ guardlib.EventConcurrencyLimited) {
	p.factory.metricConcurrencyLimited.Inc()
}

func (p prometheusProcessor) EventRequestFinish(evt guardlib.EventRequestFinish) {
	p.factory.metricRequests.
		WithLabelValues(evt.Method, statusClass(evt.Status)).
		Inc()
	p.factory.metricRequestDuration.
		WithLabelValues(evt.Method).
		Observe(evt.Duration.Seconds())
}

func (p prometheusProcessor) Shutdown() {}

// PrometheusFactory is a factory of [events.Observer] which collect
// information in a format suitable for Prometheus.
//
// This factory can also serve on a given listener. In that case it starts HTTP
// server with a single endpoint - a Prometheus-compatible scrape output.
type PrometheusFactory struct {
	httpServer *http.Server
	handler    http.Handler

	metricRateLimited     *prometheus.CounterVec
	metricThreats         *prometheus.CounterVec
	metricCSRFFailures    *prometheus.CounterVec
	metricSanitizedFields *prometheus.CounterVec
	metricAuth            *prometheus.CounterVec
	metricRequests        *prometheus.CounterVec

	metricTimeouts           prometheus.Counter
	metricMalformedInput     prometheus.Counter
	metricSpeedDelayed       prometheus.Counter
	metricConcurrencyLimited prometheus.Counter

	metricSpeedDelay      prometheus.Histogram
	metricRequestDuration *prometheus.HistogramVec

	metricBuildInfo *prometheus.GaugeVec
}

// Make builds a new observer.
func (p *PrometheusFactory) Make() events.Observer {
	return prometheusProcessor{
		factory: p,
	}
}

// Handler returns a scrape handler. It is useful if metrics have to be
// served by the application router instead of a separate listener.
func (p *PrometheusFactory) Handler() http.Handler {
	return p.handler
}

// Serve starts an HTTP server on a given listener.
func (p *PrometheusFactory) Serve(listener net.Listener) error {
	return p.httpServer.Serve(listener) //nolint: wrapcheck
}

// Close stops a factory. Please pay attention that underlying listener
// is not closed.
func (p *PrometheusFactory) Close() error {
	return p.httpServer.Shutdown(context.Background()) //nolint: wrapcheck
}

// NewPrometheus builds an events.ObserverFactory which can serve HTTP
// endpoint with Prometheus scrape data.
func NewPrometheus(metricPrefix, httpPath, version string) *PrometheusFactory { //nolint: funlen
	registry := prometheus.NewPedanticRegistry()
	httpHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	mux := http.NewServeMux()

	mux.Handle(httpPath, httpHandler)

	factory := &PrometheusFactory{
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: guardlib.DefaultRequestTimeout,
		},
		handler: httpHandler,

		metricRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricRateLimited + "_total",
			Help:      "A number of requests rejected by rate limiter.",
		}, []string{TagClass}),
		metricThreats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricThreats + "_total",
			Help:      "A number of requests rejected by threat filter and IP lists.",
		}, []string{TagThreat}),
		metricCSRFFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricCSRFFailures + "_total",
			Help:      "A number of failed anti-forgery checks.",
		}, []string{TagMethod}),
		metricSanitizedFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricSanitizedFields + "_total",
			Help:      "A number of fields changed by sanitization.",
		}, []string{TagRedacted}),
		metricAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricAuth + "_total",
			Help:      "A number of authentication decisions.",
		}, []string{TagAction, TagOutcome}),
		metricRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricRequests + "_total",
			Help:      "A number of requests which have passed the pipeline.",
		}, []string{TagMethod, TagStatus}),

		metricTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricTimeouts + "_total",
			Help:      "A number of requests which have exceeded their deadline.",
		}),
		metricMalformedInput: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricMalformedInput + "_total",
			Help:      "A number of requests with bodies which cannot be parsed.",
		}),
		metricSpeedDelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricSpeedDelayed + "_total",
			Help:      "A number of requests slowed down by speed limiter.",
		}),
		metricConcurrencyLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricConcurrencyLimited + "_total",
			Help:      "A number of requests that were rejected by concurrency limiter.",
		}),

		metricSpeedDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricPrefix,
			Name:      MetricSpeedDelay + "_seconds",
			Help:      "Delays injected by speed limiter.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20},
		}),
		metricRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricPrefix,
			Name:      MetricRequestDuration + "_seconds",
			Help:      "Time spent in the pipeline and the application handler.",
			Buckets:   requestDurationBuckets,
		}, []string{TagMethod}),

		metricBuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricPrefix,
			Name:      "build_info",
			Help:      "Build information about reqguard.",
		}, []string{"version"}),
	}

	registry.MustRegister(factory.metricRateLimited)
	registry.MustRegister(factory.metricThreats)
	registry.MustRegister(factory.metricCSRFFailures)
	registry.MustRegister(factory.metricSanitizedFields)
	registry.MustRegister(factory.metricAuth)
	registry.MustRegister(factory.metricRequests)

	registry.MustRegister(factory.metricTimeouts)
	registry.MustRegister(factory.metricMalformedInput)
	registry.MustRegister(factory.metricSpeedDelayed)
	registry.MustRegister(factory.metricConcurrencyLimited)

	registry.MustRegister(factory.metricSpeedDelay)
	registry.MustRegister(factory.metricRequestDuration)

	registry.MustRegister(factory.metricBuildInfo)
	factory.metricBuildInfo.WithLabelValues(version).Set(1)

	return factory
}
