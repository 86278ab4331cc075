// Package main runs the skystream ingester: it follows the Bluesky repo event stream,
// classifies post, repost, like and follow operations and publishes each one to a
// topic exchange under "{kind}.{action}".
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/skystream/config"
	"github.com/c360/skystream/firehose"
	"github.com/c360/skystream/health"
	"github.com/c360/skystream/metric"
	"github.com/c360/skystream/natsclient"
	"github.com/c360/skystream/ops"
	"github.com/c360/skystream/pkg/buffer"
	"github.com/c360/skystream/pkg/retry"
	"github.com/c360/skystream/pkg/tlsutil"
	"github.com/c360/skystream/profile"
	"github.com/c360/skystream/publisher"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "skystream"
)

const healthInterval = 5 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		fmt.Println(cfg.String())
		return nil
	}

	logger.Info("Starting skystream",
		"version", Version,
		"build_time", BuildTime,
		"firehose", cfg.Firehose.URL,
		"broker", cfg.Broker.Kind,
		"exchange", cfg.Broker.Exchange)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return app.run(ctx, cliCfg.ShutdownTimeout)
}

// loadConfig layers the optional config file, the .env file and the environment.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	if cliCfg.EnvFile != "" {
		loader.SetEnvFile(cliCfg.EnvFile)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	return cfg, nil
}

// healthReporter is implemented by both broker backends.
type healthReporter interface {
	Err() error
}

// app holds the wired ingester.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *metric.MetricsRegistry
	monitor    *health.Monitor
	nats       *natsclient.Client
	broker     publisher.Broker
	publisher  *publisher.Publisher
	throughput *publisher.Throughput
	subscriber *firehose.Subscriber
	profiles   *profile.Cache
	server     *metric.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
	}
	a.registry.CoreMetrics().RecordBuildInfo(Version)
	a.monitor = health.NewMonitor(appName, a.registry.CoreMetrics())

	defer func(partial *app) {
		if err != nil {
			partial.closeConnections()
		}
	}(a)

	if cfg.Broker.Kind == config.BrokerNATS || cfg.Firehose.PersistCursor {
		if a.nats, err = connectNATS(ctx, cfg, logger, a.reportNATS); err != nil {
			return nil, err
		}
	}

	if a.broker, err = newBroker(ctx, cfg, a.nats, logger); err != nil {
		return nil, err
	}

	a.throughput = publisher.NewThroughput(logger.With("component", "throughput"))
	a.publisher, err = publisher.NewPublisher(a.broker,
		publisher.Config{SpoolSize: cfg.Broker.SpoolSize, Overflow: spoolOverflow(cfg.Broker.SpoolOverflow)},
		publisher.WithLogger(logger),
		publisher.WithMetrics(a.registry, "publisher"),
		publisher.WithThroughput(a.throughput),
		publisher.WithErrorRecorder(a.registry.CoreMetrics()))
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	subOpts := []firehose.Option{
		firehose.WithLogger(logger),
		firehose.WithMetrics(a.registry, "firehose"),
		firehose.WithErrorRecorder(a.registry.CoreMetrics()),
	}
	if cfg.Firehose.PersistCursor {
		var store *natsclient.KVCursorStore
		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			var openErr error
			store, openErr = natsclient.NewKVCursorStore(ctx, a.nats, cfg.Firehose.CursorBucket,
				natsclient.CursorKey(cfg.Firehose.URL))
			return openErr
		})
		if err != nil {
			return nil, fmt.Errorf("open cursor store: %w", err)
		}
		subOpts = append(subOpts, firehose.WithCursorStore(store))
	}

	a.subscriber, err = firehose.NewSubscriber(firehose.Config{
		Service:             cfg.Firehose.URL,
		ReconnectDelay:      cfg.Firehose.ReconnectDelay,
		ReadTimeout:         cfg.Firehose.ReadTimeout,
		CursorFlushInterval: cfg.Firehose.CursorFlush,
	}, newHandler(ops.NewClassifier(nil, logger), a.publisher, a.registry.CoreMetrics()), subOpts...)
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	if a.profiles, err = newProfileCache(cfg, a.registry, logger); err != nil {
		return nil, err
	}

	if cfg.Metrics.Port > 0 {
		a.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry)
		a.server.Handle("/health", a.monitor.Handler())
		a.server.Handle("/profiles", profile.Handler(a.profiles))
	}
	return a, nil
}

// newHandler classifies each commit and hands the result to the publisher.
func newHandler(classifier *ops.Classifier, pub *publisher.Publisher, errs publisher.ErrorRecorder) firehose.Handler {
	return func(ctx context.Context, evt *firehose.Commit) error {
		batch := classifier.Classify(evt)
		if batch.Empty() {
			return nil
		}
		err := pub.PublishOps(ctx, batch)
		if err != nil {
			errs.RecordError("handler", err)
		}
		return err
	}
}

// spoolOverflow maps the configured overflow policy onto the spool's.
func spoolOverflow(policy string) buffer.OverflowPolicy {
	if policy == config.SpoolDropNewest {
		return buffer.DropNewest
	}
	return buffer.DropOldest
}

func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger, onHealth func(bool)) (*natsclient.Client, error) {
	tlsConfig, err := tlsutil.LoadClientConfig(cfg.Broker.TLS)
	if err != nil {
		return nil, fmt.Errorf("load broker TLS: %w", err)
	}
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithTLSConfig(tlsConfig),
		natsclient.WithHealthChangeCallback(onHealth),
	}
	if cfg.Broker.Kind == config.BrokerNATS && cfg.Broker.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Broker.Username, cfg.Broker.Password))
	}
	client, err := natsclient.NewClient(cfg.Broker.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "url", cfg.Broker.NATSURL)
	if err := retry.Do(ctx, retry.Persistent(), func() error { return client.Connect(ctx) }); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

// reportNATS mirrors NATS connection changes into the health monitor.
func (a *app) reportNATS(healthy bool) {
	if healthy {
		a.monitor.UpdateHealthy("nats", "connected")
		return
	}
	a.monitor.UpdateUnhealthy("nats", "disconnected")
}

func newBroker(ctx context.Context, cfg *config.Config, nc *natsclient.Client, logger *slog.Logger) (publisher.Broker, error) {
	switch cfg.Broker.Kind {
	case config.BrokerNATS:
		b, err := publisher.NewNATSBroker(nc, cfg.Broker.Exchange, false)
		if err != nil {
			return nil, fmt.Errorf("create NATS broker: %w", err)
		}
		return b, nil
	default:
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.Broker.TLS)
		if err != nil {
			return nil, fmt.Errorf("load broker TLS: %w", err)
		}
		logger.Debug("Connecting to RabbitMQ", "host", cfg.Broker.Host, "port", cfg.Broker.Port, "vhost", cfg.Broker.Vhost)
		b, err := publisher.NewAMQPBroker(ctx, publisher.AMQPConfig{
			Host:     cfg.Broker.Host,
			Port:     cfg.Broker.Port,
			Vhost:    cfg.Broker.Vhost,
			Username: cfg.Broker.Username,
			Password: cfg.Broker.Password,
			Exchange: cfg.Broker.Exchange,
			TLS:      tlsConfig,
		}, retry.Persistent(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
		return b, nil
	}
}

func newProfileCache(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*profile.Cache, error) {
	client, err := profile.NewXRPCClient(cfg.Profile.ServiceURL,
		profile.WithRateLimit(cfg.Profile.RateLimit, max(1, int(cfg.Profile.RateLimit))),
		profile.WithClientLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create profile client: %w", err)
	}
	c, err := profile.NewCache(client, client, profile.CacheConfig{
		MaxSize:   cfg.Profile.CacheMax,
		TTL:       cfg.Profile.CacheTTL,
		GroupSize: cfg.Profile.GroupSize,
	}, profile.WithLogger(logger), profile.WithMetrics(registry, "profile_cache"))
	if err != nil {
		return nil, fmt.Errorf("create profile cache: %w", err)
	}
	return c, nil
}

// run blocks until ctx is done, then shuts down within shutdownTimeout.
func (a *app) run(ctx context.Context, shutdownTimeout time.Duration) error {
	core := a.registry.CoreMetrics()
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		a.logger.Info("Metrics server listening", "address", a.server.Address())
	}

	core.RecordComponentStatus("publisher", metric.StatusStarting)
	a.publisher.Start(ctx)
	core.RecordComponentStatus("publisher", metric.StatusRunning)
	go a.throughput.Run(ctx, a.cfg.Metrics.ThroughputInterval)
	go a.watchHealth(ctx)

	a.logger.Info("Firehose running", "url", a.subscriber.URL())
	core.RecordComponentStatus("firehose", metric.StatusRunning)
	runErr := a.subscriber.Run(ctx)
	core.RecordComponentStatus("firehose", metric.StatusStopped)
	a.logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	core.RecordComponentStatus("publisher", metric.StatusStopping)
	err := errors.Join(runErr, a.shutdown(shutdownCtx))
	if err != nil {
		core.RecordComponentStatus("publisher", metric.StatusFailed)
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	core.RecordComponentStatus("publisher", metric.StatusStopped)
	a.logger.Info("skystream shutdown complete")
	return nil
}

// watchHealth samples subscriber and broker state into the health monitor.
func (a *app) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		if a.subscriber.Connected() {
			a.monitor.UpdateHealthy("firehose", "streaming")
		} else {
			a.monitor.UpdateDegraded("firehose", "reconnecting")
		}

		if hr, ok := a.broker.(healthReporter); ok {
			a.monitor.Update("broker", health.FromError("broker", hr.Err()))
		} else {
			a.monitor.UpdateHealthy("broker", "connected")
		}

		if n := a.publisher.Pending(); n > 0 {
			a.logger.Debug("Spool backlog", "pending", n, "dropped", a.publisher.Dropped())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.publisher.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("Publisher closed",
		"published", a.publisher.Published(),
		"failed", a.publisher.Failed(),
		"dropped", a.publisher.Dropped())

	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.profiles.Close(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, a.closeConnections())
	return errors.Join(errs...)
}

// closeConnections closes the broker and the NATS connection.
func (a *app) closeConnections() error {
	var errs []error
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("close NATS: %w", err))
		}
	}
	return errors.Join(errs...)
}
