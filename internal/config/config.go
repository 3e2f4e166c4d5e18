package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reqguard/reqguard/guardlib"
)

type Optional struct {
	Enabled TypeBool `json:"enabled"`
}

type ListConfig struct {
	Optional

	DownloadConcurrency TypeConcurrency    `json:"downloadConcurrency"`
	URLs                []TypeBlocklistURI `json:"urls"`
	UpdateEach          TypeDuration       `json:"updateEach"`
}

type LimiterClassConfig struct {
	Name     string           `json:"name"`
	Max      TypeRequestCount `json:"max"`
	Window   TypeDuration     `json:"window"`
	Prefixes []TypeHTTPPath   `json:"prefixes"`
}

type Config struct {
	Debug             TypeBool        `json:"debug"`
	Secret            TypeSecret      `json:"secret"`
	BindTo            TypeHostPort    `json:"bindTo"`
	TrustProxyHeaders TypeBool        `json:"trustProxyHeaders"`
	SecureCookies     TypeBool        `json:"secureCookies"`
	Concurrency       TypeConcurrency `json:"concurrency"`
	RequestTimeout    TypeDuration    `json:"requestTimeout"`
	MaxBodySize       TypeBytes       `json:"maxBodySize"`
	Network           struct {
		Timeout struct {
			ReadHeader TypeDuration `json:"readHeader"`
			Idle       TypeDuration `json:"idle"`
		} `json:"timeout"`
		TCPFastOpen TypeBool `json:"tcpFastOpen"`
	} `json:"network"`
	Storage struct {
		Backend TypeStorageBackend `json:"backend"`
		Redis   struct {
			Address  TypeHostPort `json:"address"`
			Password string       `json:"password"`
			DB       int          `json:"db"`
			Prefix   string       `json:"prefix"`
		} `json:"redis"`
		Cooldown struct {
			Threshold TypeConcurrency `json:"threshold"`
			Timeout   TypeDuration    `json:"timeout"`
		} `json:"cooldown"`
	} `json:"storage"`
	RateLimit struct {
		Classes []LimiterClassConfig `json:"classes"`
	} `json:"rateLimit"`
	SpeedLimit struct {
		Disabled  TypeBool         `json:"disabled"`
		Window    TypeDuration     `json:"window"`
		FreeQuota TypeRequestCount `json:"freeQuota"`
		Increment TypeDuration     `json:"increment"`
		MaxDelay  TypeDuration     `json:"maxDelay"`
		Skip      []TypeHTTPPath   `json:"skip"`
	} `json:"speedLimit"`
	CSRF struct {
		MaxAge            TypeDuration   `json:"maxAge"`
		Header            string         `json:"header"`
		ProtectedPrefixes []TypeHTTPPath `json:"protectedPrefixes"`
		SessionCookie     string         `json:"sessionCookie"`
		AntiReplay        struct {
			Optional

			MaxSize   TypeBytes     `json:"maxSize"`
			ErrorRate TypeErrorRate `json:"errorRate"`
		} `json:"antiReplay"`
	} `json:"csrf"`
	Defense struct {
		ThreatSignatures []string   `json:"threatSignatures"`
		SensitiveFields  []string   `json:"sensitiveFields"`
		Blocklist        ListConfig `json:"blocklist"`
		Allowlist        ListConfig `json:"allowlist"`
	} `json:"defense"`
	Events struct {
		Directory string   `json:"directory"`
		Console   TypeBool `json:"console"`
	} `json:"events"`
	Stats struct {
		StatsD struct {
			Optional

			Address      TypeHostPort        `json:"address"`
			MetricPrefix TypeMetricPrefix    `json:"metricPrefix"`
			TagFormat    TypeStatsdTagFormat `json:"tagFormat"`
		} `json:"statsd"`
		Prometheus struct {
			Optional

			BindTo       TypeHostPort     `json:"bindTo"`
			HTTPPath     TypeHTTPPath     `json:"httpPath"`
			MetricPrefix TypeMetricPrefix `json:"metricPrefix"`
		} `json:"prometheus"`
	} `json:"stats"`
}

func (c *Config) Validate() error {
	if len(c.Secret.Get()) < guardlib.MinSecretLength {
		return fmt.Errorf("secret has to be at least %d bytes", guardlib.MinSecretLength)
	}

	if c.BindTo.Get("") == "" {
		return fmt.Errorf("incorrect bindTo parameter %s", c.BindTo.String())
	}

	if c.Storage.Backend.Get(StorageBackendMemory) == StorageBackendRedis &&
		c.Storage.Redis.Address.Get("") == "" {
		return fmt.Errorf("storage.redis.address is required for redis backend")
	}

	names := map[string]bool{}

	for _, class := range c.RateLimit.Classes {
		switch {
		case class.Name == "":
			return fmt.Errorf("rateLimit.classes: name is required")
		case names[class.Name]:
			return fmt.Errorf("rateLimit.classes: duplicate class %s", class.Name)
		case class.Max.Get(0) == 0:
			return fmt.Errorf("rateLimit.classes: max of %s must be > 0", class.Name)
		case class.Window.Value == 0:
			return fmt.Errorf("rateLimit.classes: window of %s must be > 0", class.Name)
		}

		names[class.Name] = true
	}

	if len(c.RateLimit.Classes) > 0 && !names[guardlib.ClassGeneral] {
		return fmt.Errorf("rateLimit.classes: %s class is required", guardlib.ClassGeneral)
	}

	if c.Defense.Blocklist.Enabled.Get(false) && len(c.Defense.Blocklist.URLs) == 0 {
		return fmt.Errorf("defense.blocklist.urls are required when blocklist is enabled")
	}

	if c.Defense.Allowlist.Enabled.Get(false) && len(c.Defense.Allowlist.URLs) == 0 {
		return fmt.Errorf("defense.allowlist.urls are required when allowlist is enabled")
	}

	if c.Stats.Prometheus.Enabled.Get(false) {
		if c.Stats.Prometheus.BindTo.Get("") == "" {
			return fmt.Errorf("prometheus.bindTo is required when prometheus is enabled")
		}
	}

	if c.Stats.StatsD.Enabled.Get(false) {
		if c.Stats.StatsD.Address.Get("") == "" {
			return fmt.Errorf("statsd.address is required when statsd is enabled")
		}
	}

	return nil
}

// LimiterClasses converts configured classes. It returns nil if nothing is
// configured so defaults apply.
func (c *Config) LimiterClasses() []guardlib.LimiterClass {
	if len(c.RateLimit.Classes) == 0 {
		return nil
	}

	rv := make([]guardlib.LimiterClass, 0, len(c.RateLimit.Classes))

	for _, class := range c.RateLimit.Classes {
		rv = append(rv, guardlib.LimiterClass{
			Name:     class.Name,
			Max:      class.Max.Get(0),
			Window:   class.Window.Value,
			Prefixes: paths(class.Prefixes),
		})
	}

	return rv
}

// SpeedPolicy converts the speed limit section on top of defaults.
func (c *Config) SpeedPolicy() guardlib.SpeedPolicy {
	policy := guardlib.DefaultSpeedPolicy()

	policy.Window = c.SpeedLimit.Window.Get(policy.Window)
	policy.FreeQuota = c.SpeedLimit.FreeQuota.Get(policy.FreeQuota)
	policy.Increment = c.SpeedLimit.Increment.Get(policy.Increment)
	policy.MaxDelay = c.SpeedLimit.MaxDelay.Get(policy.MaxDelay)

	if len(c.SpeedLimit.Skip) > 0 {
		policy.SkipPrefixes = paths(c.SpeedLimit.Skip)
	}

	return policy
}

// PipelineConfig converts tunables of the pipeline stages.
func (c *Config) PipelineConfig() guardlib.PipelineConfig {
	conf := guardlib.DefaultPipelineConfig()

	conf.RequestTimeout = c.RequestTimeout.Get(conf.RequestTimeout)
	conf.MaxBodySize = int64(c.MaxBodySize.Get(uint(conf.MaxBodySize)))
	conf.CSRFMaxAge = c.CSRF.MaxAge.Get(conf.CSRFMaxAge)
	conf.CSRFSingleUse = c.CSRF.AntiReplay.Enabled.Get(false)

	if c.CSRF.Header != "" {
		conf.CSRFHeader = c.CSRF.Header
	}

	if len(c.CSRF.ProtectedPrefixes) > 0 {
		conf.ProtectedPrefixes = paths(c.CSRF.ProtectedPrefixes)
	}

	if len(c.Defense.SensitiveFields) > 0 {
		conf.SensitiveFields = append(append([]string{}, guardlib.DefaultSensitiveFields...),
			c.Defense.SensitiveFields...)
	}

	return conf
}

// ReadHeaderTimeout returns a timeout of reading request headers.
func (c *Config) ReadHeaderTimeout() time.Duration {
	return c.Network.Timeout.ReadHeader.Get(DefaultReadHeaderTimeout)
}

func (c *Config) String() string {
	safe := *c
	safe.Secret = TypeSecret{}
	safe.Storage.Redis.Password = ""

	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)

	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(safe); err != nil {
		return "{}"
	}

	return buf.String()
}

// Parse decodes JSON representation of the config.
func Parse(data []byte) (*Config, error) {
	conf := &Config{}
	decoder := json.NewDecoder(bytes.NewReader(data))

	decoder.DisallowUnknownFields()

	if err := decoder.Decode(conf); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return conf, nil
}

func paths(values []TypeHTTPPath) []string {
	rv := make([]string, 0, len(values))

	for _, v := range values {
		rv = append(rv, v.Get(""))
	}

	return rv
}
