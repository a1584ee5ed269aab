// ticketd serves ticket purchases over HTTP.
//
// Inventory lives in Redis (default) or a NATS JetStream KV bucket. When the
// store becomes unreachable ticketd keeps selling from an in-process copy and
// switches back once the store answers again.
//
// Endpoints:
//
//	POST /buy/{eventId}      purchase one ticket (numeric event IDs)
//	GET  /metrics            plaintext counters
//	GET  /metrics.json       the same counters as JSON
//	GET  /metrics/prometheus Prometheus exposition
//	GET  /healthz            current mode
//
// Configuration comes from an optional YAML file (--config), then TICKETD_*
// environment variables, then command-line flags.
package main

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

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/arloliu/dispenser"
	"github.com/arloliu/dispenser/internal/logging"
	"github.com/arloliu/dispenser/store/kvstore"
	"github.com/arloliu/dispenser/store/redisstore"
)

// demoEvents is the inventory written by --seed.
var demoEvents = []struct {
	id    string
	count int
}{
	{"1", 1000},
	{"2", 1500},
	{"3", 2000},
}

// seeder writes initial inventory.
type seeder interface {
	Seed(ctx context.Context, eventID string, tokens []string) error
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		seed       bool
	)

	flagSet := pflag.NewFlagSet("ticketd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flagSet.String("backend", "", "primary store: redis or nats")
	flagSet.String("redis-url", "", "redis:// connection URL")
	flagSet.String("nats-url", "", "NATS server URL")
	flagSet.String("listen", "", "HTTP listen address")
	flagSet.Duration("probe-interval", 0, "recovery probe interval")
	flagSet.String("log-level", "", "log level: debug, info, warn, error")
	flagSet.Bool("log-json", false, "log as JSON")
	flagSet.BoolVar(&seed, "seed", false, "seed demo events 1, 2 and 3 before serving")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath, flagSet)
	if err != nil {
		return err
	}

	logger := logging.NewSlogWriter(os.Stderr, cfg.Log.Level, cfg.Log.JSON).
		With("service", cfg.ServiceName, "instance", cfg.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if seed {
		seedCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
		err := seedDemoEvents(seedCtx, store, logger)
		cancel()
		if err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := dispenser.NewPrometheusMetrics(registry, "ticketing", prometheus.Labels{"instance_id": cfg.InstanceID})

	d, err := dispenser.New(cfg, store,
		dispenser.WithLogger(logger),
		dispenser.WithMetrics(collector),
		dispenser.WithHooks(&dispenser.Hooks{
			OnFailover: func(_ context.Context, reason string) error {
				logger.Warn("serving tickets from fallback store", "reason", reason)
				return nil
			},
			OnRecovery: func(_ context.Context) error {
				logger.Info("serving tickets from primary store again")
				return nil
			},
		}),
	)
	if err != nil {
		return err
	}

	if err := d.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newServer(d, registry, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "backend", cfg.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	return d.Stop(shutdownCtx)
}

// loadConfig layers defaults, the YAML file, the environment and flags.
func loadConfig(path string, flagSet *pflag.FlagSet) (dispenser.Config, error) {
	cfg := dispenser.DefaultConfig()
	if path != "" {
		loaded, err := dispenser.LoadConfig(path)
		if err != nil {
			return dispenser.Config{}, err
		}
		cfg = loaded
	}

	if err := dispenser.ApplyEnv(&cfg); err != nil {
		return dispenser.Config{}, err
	}

	if flagSet.Changed("backend") {
		cfg.Backend, _ = flagSet.GetString("backend")
	}
	if flagSet.Changed("redis-url") {
		cfg.Redis.URL, _ = flagSet.GetString("redis-url")
	}
	if flagSet.Changed("nats-url") {
		cfg.NATS.URL, _ = flagSet.GetString("nats-url")
	}
	if flagSet.Changed("listen") {
		cfg.ListenAddr, _ = flagSet.GetString("listen")
	}
	if flagSet.Changed("probe-interval") {
		cfg.ProbeInterval, _ = flagSet.GetDuration("probe-interval")
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level, _ = flagSet.GetString("log-level")
	}
	if flagSet.Changed("log-json") {
		cfg.Log.JSON, _ = flagSet.GetBool("log-json")
	}

	dispenser.SetDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return dispenser.Config{}, err
	}

	return cfg, nil
}

// openStore connects the configured primary store.
//
// Both backends connect lazily, so an unreachable store is detected by the
// dispenser's startup check and served from the fallback store.
func openStore(cfg dispenser.Config) (interface {
	dispenser.PrimaryStore
	seeder
}, func(), error) {
	switch cfg.Backend {
	case dispenser.BackendNATS:
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.ServiceName+"-"+cfg.InstanceID),
			nats.MaxReconnects(-1),
			nats.RetryOnFailedConnect(true),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}

		store, err := kvstore.Connect(nc, kvstore.Config{Bucket: cfg.NATS.Bucket})
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("open inventory bucket: %w", err)
		}

		return store, nc.Close, nil

	default:
		opts := &redis.Options{Addr: cfg.Redis.Addr}
		if cfg.Redis.URL != "" {
			parsed, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: redis url: %w", dispenser.ErrInvalidConfig, err)
			}
			opts = parsed
		}
		opts.DialTimeout = cfg.Redis.DialTimeout
		opts.ReadTimeout = cfg.OperationTimeout
		opts.WriteTimeout = cfg.OperationTimeout
		// Retries belong to the failover controller
		opts.MaxRetries = -1

		client := redis.NewClient(opts)
		store := redisstore.New(client, redisstore.Config{
			KeyPrefix: cfg.Redis.KeyPrefix,
			KeySuffix: cfg.Redis.KeySuffix,
		})

		return store, func() { _ = client.Close() }, nil
	}
}

func seedDemoEvents(ctx context.Context, store seeder, logger dispenser.Logger) error {
	for _, event := range demoEvents {
		if err := store.Seed(ctx, event.id, demoTokens(event.id, event.count)); err != nil {
			return fmt.Errorf("seed event %s: %w", event.id, err)
		}
		logger.Info("seeded event", "event", event.id, "tickets", event.count)
	}

	return nil
}

// demoTokens returns "ticket-<eventID>-<n>" for n in 1..count.
func demoTokens(eventID string, count int) []string {
	tokens := make([]string, count)
	for i := range tokens {
		tokens[i] = "ticket-" + eventID + "-" + strconv.Itoa(i+1)
	}

	return tokens
}
