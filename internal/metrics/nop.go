// Package metrics provides the dispensing metrics recorder and its exporters.
package metrics

import "github.com/arloliu/dispenser/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. It is the default exporter when none is configured.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	d, _ := dispenser.New(&cfg, store, dispenser.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// DispenseMetrics implementation

// RecordSale discards the sale metric.
func (n *NopMetrics) RecordSale(_ /* eventID */ string) {
	// No-op
}

// RecordRemaining discards the remaining inventory metric.
func (n *NopMetrics) RecordRemaining(_ /* eventID */ string, _ /* count */ int) {
	// No-op
}

// RecordError discards the error metric.
func (n *NopMetrics) RecordError() {
	// No-op
}

// RecordPopDuration discards the pop latency metric.
func (n *NopMetrics) RecordPopDuration(_ /* mode */ types.Mode, _ /* seconds */ float64) {
	// No-op
}

// FailoverMetrics implementation

// RecordFailover discards the failover metric.
func (n *NopMetrics) RecordFailover(_ /* reason */ string) {
	// No-op
}

// RecordRecovery discards the recovery metric.
func (n *NopMetrics) RecordRecovery() {
	// No-op
}

// RecordProbe discards the probe metric.
func (n *NopMetrics) RecordProbe(_ /* success */ bool) {
	// No-op
}

// SetFallbackActive discards the fallback gauge.
func (n *NopMetrics) SetFallbackActive(_ /* active */ bool) {
	// No-op
}

// RecordSnapshot discards the snapshot metric.
func (n *NopMetrics) RecordSnapshot(_ /* events */, _ /* tokens */ int, _ /* complete */ bool) {
	// No-op
}
