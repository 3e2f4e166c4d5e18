package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/reqguard/reqguard/guardlib"
	"github.com/reqguard/reqguard/internal/config"
	"github.com/stretchr/testify/suite"
)

const minimalConfig = `{
	"secret": "0123456789abcdef0123456789abcdef",
	"bindTo": "127.0.0.1:8080"
}`

const fullConfig = `{
	"secret": "0123456789abcdef0123456789abcdef",
	"bindTo": "0.0.0.0:8080",
	"trustProxyHeaders": true,
	"requestTimeout": "5s",
	"maxBodySize": "64KiB",
	"storage": {
		"backend": "redis",
		"redis": {"address": "127.0.0.1:6379", "password": "hunter2"}
	},
	"rateLimit": {
		"classes": [
			{"name": "general", "max": 200, "window": "10m"},
			{"name": "auth", "max": 3, "window": "5m", "prefixes": ["/login"]}
		]
	},
	"speedLimit": {"freeQuota": 10, "maxDelay": "1s"},
	"csrf": {
		"maxAge": "1h",
		"header": "X-XSRF-Token",
		"protectedPrefixes": ["/login", "/api/"],
		"antiReplay": {"enabled": true, "maxSize": "2MiB", "errorRate": 0.01}
	},
	"defense": {"sensitiveFields": ["pin"]},
	"stats": {
		"prometheus": {"enabled": true, "bindTo": "127.0.0.1:9090", "httpPath": "/metrics"}
	}
}`

type ConfigTestSuite struct {
	suite.Suite
}

func (suite *ConfigTestSuite) TestMinimal() {
	conf, err := config.Parse([]byte(minimalConfig))
	suite.Require().NoError(err)

	suite.Nil(conf.LimiterClasses())
	suite.Equal(guardlib.DefaultSpeedPolicy(), conf.SpeedPolicy())
	suite.Equal(guardlib.DefaultPipelineConfig(), conf.PipelineConfig())
	suite.Equal(config.StorageBackendMemory, conf.Storage.Backend.Get(config.StorageBackendMemory))
	suite.Equal(config.DefaultReadHeaderTimeout, conf.ReadHeaderTimeout())
}

func (suite *ConfigTestSuite) TestFull() {
	conf, err := config.Parse([]byte(fullConfig))
	suite.Require().NoError(err)

	suite.Equal([]guardlib.LimiterClass{
		{Name: "general", Max: 200, Window: 10 * time.Minute, Prefixes: []string{}},
		{Name: "auth", Max: 3, Window: 5 * time.Minute, Prefixes: []string{"/login"}},
	}, conf.LimiterClasses())

	speed := conf.SpeedPolicy()
	suite.EqualValues(10, speed.FreeQuota)
	suite.Equal(time.Second, speed.MaxDelay)

	pipeline := conf.PipelineConfig()
	suite.Equal(5*time.Second, pipeline.RequestTimeout)
	suite.EqualValues(64*1024, pipeline.MaxBodySize)
	suite.Equal(time.Hour, pipeline.CSRFMaxAge)
	suite.Equal("X-XSRF-Token", pipeline.CSRFHeader)
	suite.True(pipeline.CSRFSingleUse)
	suite.Equal([]string{"/login", "/api/"}, pipeline.ProtectedPrefixes)
	suite.Contains(pipeline.SensitiveFields, "pin")
	suite.Contains(pipeline.SensitiveFields, "password")
}

func (suite *ConfigTestSuite) TestStringMasksSecrets() {
	conf, err := config.Parse([]byte(fullConfig))
	suite.Require().NoError(err)

	data := conf.String()

	suite.NotContains(data, "0123456789abcdef")
	suite.NotContains(data, "hunter2")
	suite.Contains(data, "0.0.0.0:8080")
	suite.Equal("0123456789abcdef0123456789abcdef", string(conf.Secret.Get()))
}

func (suite *ConfigTestSuite) TestInvalid() {
	testData := map[string]string{
		"short secret": `{"secret": "short", "bindTo": "127.0.0.1:8080"}`,
		"no bind":      `{"secret": "0123456789abcdef0123456789abcdef"}`,
		"unknown key": `{"secret": "0123456789abcdef0123456789abcdef",
			"bindTo": "127.0.0.1:8080", "bindToo": "x"}`,
		"redis without address": `{"secret": "0123456789abcdef0123456789abcdef",
			"bindTo": "127.0.0.1:8080", "storage": {"backend": "redis"}}`,
		"no general class": `{"secret": "0123456789abcdef0123456789abcdef",
			"bindTo": "127.0.0.1:8080",
			"rateLimit": {"classes": [{"name": "auth", "max": 3, "window": "5m"}]}}`,
		"duplicate class": `{"secret": "0123456789abcdef0123456789abcdef",
			"bindTo": "127.0.0.1:8080",
			"rateLimit": {"classes": [
				{"name": "general", "max": 3, "window": "5m"},
				{"name": "general", "max": 3, "window": "5m"}]}}`,
		"blocklist without urls": `{"secret": "0123456789abcdef0123456789abcdef",
			"bindTo": "127.0.0.1:8080", "defense": {"blocklist": {"enabled": true}}}`,
		"statsd without address": `{"secret": "0123456789abcdef0123456789abcdef",
			"bindTo": "127.0.0.1:8080", "stats": {"statsd": {"enabled": true}}}`,
	}

	for name, data := range testData {
		_, err := config.Parse([]byte(data))
		suite.Error(err, name)
	}
}

func (suite *ConfigTestSuite) TestUnknownKeyMessage() {
	_, err := config.Parse([]byte(strings.Replace(minimalConfig, `"bindTo"`, `"bind"`, 1)))
	suite.ErrorContains(err, "bind")
}

func TestConfig(t *testing.T) {
	t.Parallel()
	suite.Run(t, &ConfigTestSuite{})
}
