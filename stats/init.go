// Package stats contains event observers which turn security events into
// metrics. Two backends are supported: Prometheus (pull) and StatsD (push).
package stats

const (
	DefaultMetricPrefix = "reqguard"

	DefaultStatsdMetricPrefix = DefaultMetricPrefix + "."
	DefaultStatsdTagFormat    = "influxdb"

	DefaultPrometheusHTTPPath = "/metrics"
)

const (
	MetricRateLimited        = "rate_limited"
	MetricThreats            = "threats"
	MetricCSRFFailures       = "csrf_failures"
	MetricSanitizedFields    = "sanitized_fields"
	MetricAuth               = "auth"
	MetricTimeouts           = "timeouts"
	MetricMalformedInput     = "malformed_input"
	MetricSpeedDelayed       = "speed_delayed"
	MetricSpeedDelay         = "speed_delay"
	MetricConcurrencyLimited = "concurrency_limited"
	MetricRequests           = "requests"
	MetricRequestDuration    = "request_duration"

	TagClass    = "class"
	TagThreat   = "threat"
	TagAction   = "action"
	TagOutcome  = "outcome"
	TagMethod   = "method"
	TagStatus   = "status"
	TagRedacted = "redacted"

	TagThreatSignature = "signature"
	TagThreatBlocklist = "blocklist"
	TagThreatAllowlist = "allowlist"
)

var requestDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// statusClass collapses status codes into 2xx, 4xx and so on to keep label
// cardinality bounded.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

func threatTag(signature string, isBlockList bool) string {
	switch {
	case signature != "":
		return TagThreatSignature
	case isBlockList:
		return TagThreatBlocklist
	default:
		return TagThreatAllowlist
	}
}

func boolTag(value bool) string {
	if value {
		return "true"
	}

	return "false"
}
