package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reqguard/reqguard/antireplay"
	"github.com/reqguard/reqguard/events"
	"github.com/reqguard/reqguard/guardlib"
	"github.com/reqguard/reqguard/internal/app"
	"github.com/reqguard/reqguard/internal/config"
	"github.com/reqguard/reqguard/internal/utils"
	"github.com/reqguard/reqguard/ipblocklist"
	"github.com/reqguard/reqguard/logger"
	"github.com/reqguard/reqguard/ratestore"
	"github.com/reqguard/reqguard/stats"
	"github.com/reqguard/reqguard/tokenstore"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

// closers are released in reverse order.
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func makeLogger(conf *config.Config) guardlib.Logger {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if conf.Debug.Get(false) {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	baseLogger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()

	return logger.NewZeroLogger(baseLogger)
}

func makeStores(conf *config.Config, log guardlib.Logger,
	release *closers,
) (guardlib.RateStore, guardlib.TokenStore) {
	if conf.Storage.Backend.Get(config.StorageBackendMemory) == config.StorageBackendMemory {
		rates := ratestore.NewMemory(ratestore.MemoryOpts{})
		tokens := tokenstore.NewMemory(nil, 0)

		release.add(rates.Stop)
		release.add(tokens.Stop)

		return rates, tokens
	}

	client := redis.NewClient(&redis.Options{
		Addr:     conf.Storage.Redis.Address.Get(""),
		Password: conf.Storage.Redis.Password,
		DB:       conf.Storage.Redis.DB,
	})

	release.add(func() {
		if err := client.Close(); err != nil {
			log.WarningError("cannot close redis client", err)
		}
	})

	ratePrefix := ratestore.DefaultRedisPrefix
	tokenPrefix := tokenstore.DefaultRedisPrefix

	if prefix := conf.Storage.Redis.Prefix; prefix != "" {
		ratePrefix = prefix
		tokenPrefix = prefix + "csrf:"
	}

	rates := ratestore.NewCooldown(
		ratestore.NewRedis(client, ratePrefix, nil),
		uint32(conf.Storage.Cooldown.Threshold.Get(ratestore.DefaultCooldownThreshold)),
		conf.Storage.Cooldown.Timeout.Get(ratestore.DefaultCooldownTimeout),
		nil)

	return rates, tokenstore.NewRedis(client, tokenPrefix)
}

// makeIPList returns nil if list is disabled. Lists are shut down by the
// pipeline.
func makeIPList(conf config.ListConfig, name string, log guardlib.Logger) (guardlib.IPBlocklist, error) {
	if !conf.Enabled.Get(false) {
		return nil, nil //nolint: nilnil
	}

	files, urls := config.SplitLists(conf.URLs)
	log = log.Named(name)

	list, err := ipblocklist.NewFirehol(ipblocklist.FireholOpts{
		Logger:              log,
		HTTPClient:          &http.Client{Timeout: ipblocklist.DefaultDownloadTimeout},
		RemoteURLs:          urls,
		LocalFiles:          files,
		DownloadConcurrency: conf.DownloadConcurrency.Get(ipblocklist.DefaultDownloadConcurrency),
		OnUpdate: func(size int) {
			log.BindInt("size", size).Info("ip list is loaded")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot build %s: %w", name, err)
	}

	go list.Run(conf.UpdateEach.Get(ipblocklist.DefaultUpdateEach))

	return list, nil
}

func makeEventStream(conf *config.Config, version string, log guardlib.Logger,
	release *closers,
) (events.EventStream, error) {
	factories := []events.ObserverFactory{}

	if conf.Events.Console.Get(false) {
		factories = append(factories, events.NewConsoleLogSink(os.Stderr, log).Factory())
	} else {
		dir := conf.Events.Directory
		if dir == "" {
			dir = config.DefaultEventsDirectory
		}

		sink, err := events.NewFileLogSink(dir, log)
		if err != nil {
			return events.EventStream{}, fmt.Errorf("cannot open event logs: %w", err)
		}

		release.add(func() {
			if failures := sink.Failures(); failures > 0 {
				log.BindInt("failures", int(failures)).Warning("some security events were not written")
			}

			sink.Close() //nolint: errcheck
		})

		factories = append(factories, sink.Factory())
	}

	if conf.Stats.StatsD.Enabled.Get(false) {
		statsdFactory, err := stats.NewStatsd(
			conf.Stats.StatsD.Address.Get(""),
			log,
			conf.Stats.StatsD.MetricPrefix.Get(stats.DefaultStatsdMetricPrefix),
			conf.Stats.StatsD.TagFormat.Get(stats.DefaultStatsdTagFormat))
		if err != nil {
			return events.EventStream{}, fmt.Errorf("cannot build statsd observer: %w", err)
		}

		release.add(func() { statsdFactory.Close() }) //nolint: errcheck

		factories = append(factories, statsdFactory.Make)
	}

	if conf.Stats.Prometheus.Enabled.Get(false) {
		prometheus := stats.NewPrometheus(
			conf.Stats.Prometheus.MetricPrefix.Get(stats.DefaultMetricPrefix),
			conf.Stats.Prometheus.HTTPPath.Get(stats.DefaultPrometheusHTTPPath),
			version)

		listener, err := utils.NewListener(conf.Stats.Prometheus.BindTo.Get(""), false)
		if err != nil {
			return events.EventStream{}, fmt.Errorf("cannot start a listener for prometheus: %w", err)
		}

		go prometheus.Serve(listener) //nolint: errcheck

		release.add(func() {
			prometheus.Close() //nolint: errcheck
			listener.Close()
		})

		factories = append(factories, prometheus.Make)
	}

	stream := events.NewEventStream(factories, log)

	release.add(func() {
		stream.Shutdown()

		if dropped := stream.Dropped(); dropped > 0 {
			log.BindInt("dropped", int(dropped)).Warning("some security events were dropped")
		}
	})

	return stream, nil
}

func makePipelineOpts(conf *config.Config, log guardlib.Logger) (guardlib.PipelineOpts, error) {
	pipelineConfig := conf.PipelineConfig()
	speedPolicy := conf.SpeedPolicy()
	opts := guardlib.PipelineOpts{
		Secret:            conf.Secret.Get(),
		Logger:            log,
		ThreatSignatures:  conf.Defense.ThreatSignatures,
		LimiterClasses:    conf.LimiterClasses(),
		SpeedPolicy:       &speedPolicy,
		DisableSpeedLimit: conf.SpeedLimit.Disabled.Get(false),
		NotFoundHandler:   app.NotFoundHandler(),
		Concurrency:       conf.Concurrency.Get(guardlib.DefaultConcurrency),
		TrustProxyHeaders: conf.TrustProxyHeaders.Get(false),
		SecureCookies:     conf.SecureCookies.Get(false),
		Config:            &pipelineConfig,
	}

	if conf.CSRF.SessionCookie != "" {
		sessions, err := guardlib.NewCookieSessions(opts.Secret, conf.CSRF.SessionCookie, opts.SecureCookies)
		if err != nil {
			return opts, fmt.Errorf("cannot build sessions: %w", err)
		}

		opts.Sessions = sessions
	}

	if pipelineConfig.CSRFSingleUse {
		filter := antireplay.NewStableBloomFilter(
			conf.CSRF.AntiReplay.MaxSize.Get(antireplay.DefaultStableBloomFilterMaxSize),
			conf.CSRF.AntiReplay.ErrorRate.Get(antireplay.DefaultStableBloomFilterErrorRate))

		opts.AntiReplayCache = filter
	}

	return opts, nil
}

func runServer(conf *config.Config, version string) error { //nolint: funlen
	log := makeLogger(conf)
	release := closers{}

	defer release.close()

	log.BindJSON("configuration", conf.String()).Debug("configuration")

	opts, err := makePipelineOpts(conf, log)
	if err != nil {
		return err
	}

	opts.RateStore, opts.TokenStore = makeStores(conf, log, &release)

	if opts.IPBlocklist, err = makeIPList(conf.Defense.Blocklist, "blocklist", log); err != nil {
		return err
	}

	if opts.IPAllowlist, err = makeIPList(conf.Defense.Allowlist, "allowlist", log); err != nil {
		if opts.IPBlocklist != nil {
			opts.IPBlocklist.Shutdown()
		}

		return err
	}

	eventStream, err := makeEventStream(conf, version, log, &release)
	if err != nil {
		return err
	}

	opts.EventStream = eventStream

	pipeline, err := guardlib.NewPipeline(opts)
	if err != nil {
		return fmt.Errorf("cannot create pipeline: %w", err)
	}

	release.add(pipeline.Shutdown)

	if filter, ok := opts.AntiReplayCache.(*antireplay.StableBloomFilter); ok {
		release.add(func() {
			metrics := filter.Metrics()

			log.BindInt("checks", int(metrics.TotalChecks)).
				BindInt("replays", int(metrics.ReplayDetected)).
				BindStr("false_positive_rate", strconv.FormatFloat(metrics.FalsePositiveRate, 'g', 4, 64)).
				Info("anti-replay filter statistics")
		})
	}

	listener, err := utils.NewListener(conf.BindTo.Get(config.DefaultBindTo), conf.Network.TCPFastOpen.Get(false))
	if err != nil {
		return fmt.Errorf("cannot start listener: %w", err)
	}

	application := app.New(pipeline, pipeline.TokenHandler(), 0)
	server := &http.Server{
		Handler:           pipeline.Middleware(application.Router()),
		ReadHeaderTimeout: conf.ReadHeaderTimeout(),
		IdleTimeout:       conf.Network.Timeout.Idle.Get(config.DefaultIdleTimeout),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- server.Serve(listener)
	}()

	log.BindStr("bind_to", listener.Addr().String()).Warning("server has started")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server has failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WarningError("cannot shutdown server gracefully", err)
	}

	log.Warning("server has stopped")

	return nil
}
