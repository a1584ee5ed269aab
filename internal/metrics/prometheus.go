package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arloliu/dispenser/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use, so constructing a
// PrometheusCollector that is never exercised leaves the registry untouched.
type PrometheusCollector struct {
	reg         prometheus.Registerer
	namespace   string
	constLabels prometheus.Labels
	once        sync.Once

	sold           *prometheus.CounterVec
	remaining      *prometheus.GaugeVec
	errors         prometheus.Counter
	popDuration    *prometheus.HistogramVec
	failovers      *prometheus.CounterVec
	recoveries     prometheus.Counter
	probes         *prometheus.CounterVec
	fallbackActive prometheus.Gauge
	snapshots      *prometheus.CounterVec
	snapshotTokens prometheus.Gauge
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Metrics namespace (defaults to "ticketing" if empty)
//   - constLabels: Labels attached to every series, e.g. the instance ID (may be nil)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string, constLabels prometheus.Labels) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "ticketing"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace, constLabels: constLabels}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		factory := promauto.With(p.reg)

		p.sold = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Name:        "tickets_sold_total",
			Help:        "Total tickets dispensed by event.",
			ConstLabels: p.constLabels,
		}, []string{"event_id"})

		p.remaining = factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   p.namespace,
			Name:        "tickets_remaining",
			Help:        "Best-effort remaining inventory by event.",
			ConstLabels: p.constLabels,
		}, []string{"event_id"})

		p.errors = factory.NewCounter(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Name:        "dispense_errors_total",
			Help:        "Total dispense-path errors (store unavailable or unclassified).",
			ConstLabels: p.constLabels,
		})

		p.popDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   p.namespace,
			Name:        "pop_duration_seconds",
			Help:        "Latency of a single pop by serving backend.",
			ConstLabels: p.constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2.5, 10), // 100µs .. ~380ms
		}, []string{"backend"})

		p.failovers = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Name:        "fallback_activations_total",
			Help:        "Total primary-to-fallback transitions by reason.",
			ConstLabels: p.constLabels,
		}, []string{"reason"})

		p.recoveries = factory.NewCounter(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Name:        "recoveries_total",
			Help:        "Total fallback-to-primary transitions.",
			ConstLabels: p.constLabels,
		})

		p.probes = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Name:        "recovery_probes_total",
			Help:        "Total recovery probes by result (success, failure).",
			ConstLabels: p.constLabels,
		}, []string{"result"})

		p.fallbackActive = factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   p.namespace,
			Name:        "fallback_active",
			Help:        "Whether the fallback store is serving requests (1=fallback,0=primary).",
			ConstLabels: p.constLabels,
		})

		p.snapshots = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Name:        "failover_snapshots_total",
			Help:        "Failover snapshots by result (complete, incomplete).",
			ConstLabels: p.constLabels,
		}, []string{"result"})

		p.snapshotTokens = factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   p.namespace,
			Name:        "failover_snapshot_tokens",
			Help:        "Tokens copied into the fallback store by the most recent snapshot.",
			ConstLabels: p.constLabels,
		})
	})
}

// DispenseMetrics implementation

// RecordSale increments the sold counter for the event.
func (p *PrometheusCollector) RecordSale(eventID string) {
	p.ensureRegistered()
	p.sold.WithLabelValues(eventID).Inc()
}

// RecordRemaining sets the remaining gauge for the event.
func (p *PrometheusCollector) RecordRemaining(eventID string, count int) {
	p.ensureRegistered()
	p.remaining.WithLabelValues(eventID).Set(float64(count))
}

// RecordError increments the dispense error counter.
func (p *PrometheusCollector) RecordError() {
	p.ensureRegistered()
	p.errors.Inc()
}

// RecordPopDuration observes pop latency for the serving backend.
func (p *PrometheusCollector) RecordPopDuration(mode types.Mode, seconds float64) {
	p.ensureRegistered()
	p.popDuration.WithLabelValues(mode.String()).Observe(seconds)
}

// FailoverMetrics implementation

// RecordFailover increments the failover counter for the reason.
func (p *PrometheusCollector) RecordFailover(reason string) {
	p.ensureRegistered()
	p.failovers.WithLabelValues(reason).Inc()
}

// RecordRecovery increments the recovery counter.
func (p *PrometheusCollector) RecordRecovery() {
	p.ensureRegistered()
	p.recoveries.Inc()
}

// RecordProbe increments the probe counter by result.
func (p *PrometheusCollector) RecordProbe(success bool) {
	p.ensureRegistered()
	if success {
		p.probes.WithLabelValues("success").Inc()
	} else {
		p.probes.WithLabelValues("failure").Inc()
	}
}

// SetFallbackActive sets the fallback gauge (1 fallback, 0 primary).
func (p *PrometheusCollector) SetFallbackActive(active bool) {
	p.ensureRegistered()
	if active {
		p.fallbackActive.Set(1)
	} else {
		p.fallbackActive.Set(0)
	}
}

// RecordSnapshot records a failover snapshot outcome and its token count.
func (p *PrometheusCollector) RecordSnapshot(_ /* events */, tokens int, complete bool) {
	p.ensureRegistered()
	if complete {
		p.snapshots.WithLabelValues("complete").Inc()
	} else {
		p.snapshots.WithLabelValues("incomplete").Inc()
	}
	p.snapshotTokens.Set(float64(tokens))
}
