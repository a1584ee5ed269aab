package dispenser

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/dispenser/internal/logging"
	"github.com/arloliu/dispenser/internal/metrics"
)

// Option configures a Dispenser with optional dependencies.
type Option func(*dispenserOptions)

// dispenserOptions holds optional Dispenser configuration.
type dispenserOptions struct {
	logger   Logger
	metrics  MetricsCollector
	hooks    *Hooks
	fallback *FallbackStore
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for New
//
// Example:
//
//	d, err := dispenser.New(cfg, store, dispenser.WithLogger(dispenser.NewSlogLogger(slog.Default())))
func WithLogger(logger Logger) Option {
	return func(o *dispenserOptions) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector that mirrors the built-in counters.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for New
//
// Example:
//
//	collector := dispenser.NewPrometheusMetrics(prometheus.DefaultRegisterer, "ticketing", nil)
//	d, err := dispenser.New(cfg, store, dispenser.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *dispenserOptions) {
		o.metrics = metrics
	}
}

// WithHooks sets failover lifecycle hooks.
//
// Hooks run asynchronously after the transition completed; they never delay
// a dispense call.
//
// Example:
//
//	hooks := &dispenser.Hooks{
//	    OnFailover: func(ctx context.Context, reason string) error {
//	        return pager.Notify(ctx, "ticket store failover: "+reason)
//	    },
//	}
//	d, err := dispenser.New(cfg, store, dispenser.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *dispenserOptions) {
		o.hooks = hooks
	}
}

// WithFallbackStore sets the fallback store instead of a fresh empty one.
//
// Useful to pre-load inventory that should be served if the primary store
// is unreachable before the first snapshot could be taken.
func WithFallbackStore(store *FallbackStore) Option {
	return func(o *dispenserOptions) {
		o.fallback = store
	}
}

// NewSlogLogger adapts a log/slog logger for WithLogger.
func NewSlogLogger(logger *slog.Logger) Logger {
	return logging.NewSlog(logger)
}

// NewPrometheusMetrics creates a Prometheus-backed collector for WithMetrics.
//
// Collectors are registered on reg the first time they are used. An empty
// namespace defaults to "ticketing".
//
// Parameters:
//   - reg: Registerer receiving the collectors
//   - namespace: Metric name prefix
//   - constLabels: Labels added to every metric (nil for none)
//
// Returns:
//   - MetricsCollector: Collector to pass to WithMetrics
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string, constLabels prometheus.Labels) MetricsCollector {
	return metrics.NewPrometheus(reg, namespace, constLabels)
}
