package cli

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/reqguard/reqguard/internal/config"
	"github.com/reqguard/reqguard/internal/utils"
	"github.com/reqguard/reqguard/stats"
)

// healthCheckTimeout is short enough for container health checks.
const healthCheckTimeout = 5 * time.Second

var healthClient = &http.Client{
	Timeout: healthCheckTimeout,
}

// Health checks a running server. It prefers a Prometheus endpoint and falls
// back to the health route of the application.
type Health struct {
	ConfigPath string `kong:"arg,required,type='existingfile',help='Path to config file.',name='config-path'"` //nolint: lll
}

func (h Health) Run(cli *CLI, version string) error {
	conf, err := utils.ReadConfig(h.ConfigPath)
	if err != nil {
		return fmt.Errorf("cannot parse config: %w", err)
	}

	return checkHTTP(healthURL(conf))
}

func healthURL(conf *config.Config) string {
	if conf.Stats.Prometheus.Enabled.Get(false) {
		return localURL(conf.Stats.Prometheus.BindTo.Get(""),
			conf.Stats.Prometheus.HTTPPath.Get(stats.DefaultPrometheusHTTPPath))
	}

	return localURL(conf.BindTo.Get(config.DefaultBindTo), "/healthz")
}

// localURL always points to loopback: a server may listen on 0.0.0.0.
func localURL(bindTo, path string) string {
	host, port, _ := net.SplitHostPort(bindTo)

	ip := net.ParseIP(host)
	if ip == nil || ip.IsUnspecified() {
		host = "127.0.0.1"
	}

	return "http://" + net.JoinHostPort(host, port) + path
}

func checkHTTP(url string) error {
	resp, err := healthClient.Get(url) //nolint: noctx
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	defer resp.Body.Close()

	io.Copy(io.Discard, resp.Body) //nolint: errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	return nil
}
