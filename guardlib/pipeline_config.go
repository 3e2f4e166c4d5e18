package guardlib

import "time"

// PipelineConfig contains tunables of the pipeline stages.
type PipelineConfig struct {
	// RequestTimeout is a deadline of the whole chain including the
	// application handler.
	// Default: 10 seconds
	RequestTimeout time.Duration

	// MaxBodySize is a maximal size of the body in bytes.
	// Default: 1 MiB
	MaxBodySize int64

	// CSRFMaxAge is a lifetime of anti-forgery tokens.
	// Default: 24 hours
	CSRFMaxAge time.Duration

	// CSRFHeader carries a token in requests and responses.
	// Default: X-CSRF-Token
	CSRFHeader string

	// CSRFSingleUse rejects a token which was already accepted once.
	// Default: false
	CSRFSingleUse bool

	// ProtectedPrefixes are path prefixes where state-changing requests
	// require a token.
	ProtectedPrefixes []string

	// SensitiveFields are never written to events.
	SensitiveFields []string
}

// DefaultPipelineConfig returns default configuration for Pipeline.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		RequestTimeout: DefaultRequestTimeout,
		MaxBodySize:    DefaultMaxBodySize,
		CSRFMaxAge:     DefaultCSRFMaxAge,
		CSRFHeader:     DefaultCSRFHeader,
		ProtectedPrefixes: []string{
			"/auth/signup",
			"/auth/signin",
			"/auth/signout",
			"/api/",
		},
		SensitiveFields: DefaultSensitiveFields,
	}
}

func (p PipelineConfig) withDefaults() PipelineConfig {
	defaults := DefaultPipelineConfig()

	if p.RequestTimeout <= 0 {
		p.RequestTimeout = defaults.RequestTimeout
	}

	if p.MaxBodySize <= 0 {
		p.MaxBodySize = defaults.MaxBodySize
	}

	if p.CSRFMaxAge <= 0 {
		p.CSRFMaxAge = defaults.CSRFMaxAge
	}

	if p.CSRFHeader == "" {
		p.CSRFHeader = defaults.CSRFHeader
	}

	if p.ProtectedPrefixes == nil {
		p.ProtectedPrefixes = defaults.ProtectedPrefixes
	}

	if p.SensitiveFields == nil {
		p.SensitiveFields = defaults.SensitiveFields
	}

	return p
}
