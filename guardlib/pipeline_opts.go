package guardlib

import (
	"net/http"
	"time"
)

// PipelineOpts is a structure with settings of the pipeline.
//
// This is not required per se, but this is to shorten function signature and
// give an ability to conveniently provide default values.
type PipelineOpts struct {
	// Secret is a master secret. Keys of anti-forgery tokens and session
	// cookies are derived from it.
	//
	// This is a mandatory setting.
	Secret []byte

	// RateStore keeps rate and speed windows.
	//
	// This is a mandatory setting.
	RateStore RateStore

	// TokenStore keeps current anti-forgery tokens.
	//
	// This is a mandatory setting.
	TokenStore TokenStore

	// EventStream defines an instance of event stream.
	//
	// This is a mandatory setting.
	EventStream EventStream

	// Logger defines an instance of the logger.
	//
	// This is a mandatory setting.
	Logger Logger

	// Sessions resolves request sessions.
	//
	// This is an optional setting. CookieSessions is used by default.
	Sessions SessionResolver

	// AntiReplayCache is required if Config.CSRFSingleUse is set.
	//
	// This is an optional setting.
	AntiReplayCache AntiReplayCache

	// IPBlocklist rejects listed clients as threats.
	//
	// This is an optional setting.
	IPBlocklist IPBlocklist

	// IPAllowlist rejects clients which are not listed.
	//
	// This is an optional setting, ignored by default (no restrictions).
	IPAllowlist IPBlocklist

	// ThreatSignatures are added to DefaultThreatSignatures.
	//
	// This is an optional setting.
	ThreatSignatures []string

	// LimiterClasses replace DefaultLimiterClasses.
	//
	// This is an optional setting.
	LimiterClasses []LimiterClass

	// SpeedPolicy replaces DefaultSpeedPolicy.
	//
	// This is an optional setting.
	SpeedPolicy *SpeedPolicy

	// DisableSpeedLimit turns progressive delays off.
	DisableSpeedLimit bool

	// NotFoundHandler is a handler of unknown routes. Threats and rejected
	// clients get exactly the same response.
	//
	// This is an optional setting. Default is http.NotFoundHandler.
	NotFoundHandler http.Handler

	// Concurrency is a size of the worker pool. Requests above it are
	// rejected with 503.
	//
	// This is an optional setting.
	Concurrency uint

	// TrustProxyHeaders takes client address from X-Forwarded-For and
	// X-Real-IP headers. Enable it only behind a trusted reverse proxy.
	TrustProxyHeaders bool

	// SecureCookies marks session cookies as Secure.
	SecureCookies bool

	// Config contains timeouts and limits.
	//
	// This is an optional setting. If not provided, default values will be used.
	Config *PipelineConfig

	// Now is a clock of rate limits and tokens.
	//
	// This is an optional setting.
	Now func() time.Time
}

func (p PipelineOpts) valid() error {
	switch {
	case len(p.Secret) < MinSecretLength:
		return ErrSecretIsTooShort
	case p.RateStore == nil:
		return ErrRateStoreIsNotDefined
	case p.TokenStore == nil:
		return ErrTokenStoreIsNotDefined
	case p.EventStream == nil:
		return ErrEventStreamIsNotDefined
	case p.Logger == nil:
		return ErrLoggerIsNotDefined
	case p.getConfig().CSRFSingleUse && p.AntiReplayCache == nil:
		return ErrAntiReplayCacheIsNotDefined
	}

	return nil
}

func (p PipelineOpts) getConcurrency() int {
	if p.Concurrency == 0 {
		return DefaultConcurrency
	}

	return int(p.Concurrency)
}

func (p PipelineOpts) getLogger(name string) Logger {
	return p.Logger.Named(name)
}

func (p PipelineOpts) getConfig() PipelineConfig {
	if p.Config != nil {
		return p.Config.withDefaults()
	}

	return DefaultPipelineConfig()
}

func (p PipelineOpts) getNow() func() time.Time {
	if p.Now == nil {
		return time.Now
	}

	return p.Now
}

func (p PipelineOpts) getThreatSignatures() ThreatSignatures {
	return NewThreatSignatures(append(DefaultThreatSignatures(), p.ThreatSignatures...))
}

func (p PipelineOpts) getLimiterClasses() []LimiterClass {
	if len(p.LimiterClasses) == 0 {
		return DefaultLimiterClasses()
	}

	return p.LimiterClasses
}

func (p PipelineOpts) getSpeedPolicy() *SpeedPolicy {
	switch {
	case p.DisableSpeedLimit:
		return nil
	case p.SpeedPolicy != nil:
		return p.SpeedPolicy
	}

	policy := DefaultSpeedPolicy()

	return &policy
}

func (p PipelineOpts) getNotFoundHandler() http.Handler {
	if p.NotFoundHandler == nil {
		return http.NotFoundHandler()
	}

	return p.NotFoundHandler
}
