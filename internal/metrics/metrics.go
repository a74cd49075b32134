// Package metrics exposes the Prometheus instrumentation for the invoice
// delivery core. A nil *Metrics is valid and records nothing, so packages
// can be tested without touching the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the core.
type Metrics struct {
	// Polling engine
	PollTicks     *prometheus.CounterVec
	TickDuration  prometheus.Histogram
	ObjectsListed prometheus.Counter

	// Invoice pipeline
	InvoicesProcessed *prometheus.CounterVec
	InvoiceFailures   *prometheus.CounterVec
	Expirations       prometheus.Counter

	// Delivery
	Deliveries *prometheus.CounterVec

	// Session router
	ActiveSessions  prometheus.Gauge
	InboundFrames   *prometheus.CounterVec
	PendingExpected prometheus.Gauge
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		PollTicks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoice_poll_ticks_total",
				Help: "Polling ticks by outcome",
			},
			[]string{"result"}, // result: ok, gated, skipped, error
		),

		TickDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "invoice_poll_tick_duration_seconds",
				Help:    "Duration of one polling tick",
				Buckets: prometheus.DefBuckets,
			},
		),

		ObjectsListed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "invoice_objects_listed_total",
				Help: "Objects seen across all bucket listings",
			},
		),

		InvoicesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoice_processed_total",
				Help: "Invoices processed by path",
			},
			[]string{"path"}, // path: fetched, renotified
		),

		InvoiceFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoice_failures_total",
				Help: "Invoice pipeline failures by stage",
			},
			[]string{"stage"}, // stage: list, fetch, persist, delivery
		),

		Expirations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "invoice_registrations_expired_total",
				Help: "Expected invoices dropped after exhausting the retry budget",
			},
		),

		Deliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoice_deliveries_total",
				Help: "Delivery callback outcomes",
			},
			[]string{"result"}, // result: delivered, offline
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "game_active_sessions",
				Help: "Registered WebSocket sessions",
			},
		),

		InboundFrames: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "game_inbound_frames_total",
				Help: "Inbound WebSocket frames by type",
			},
			[]string{"type"},
		),

		PendingExpected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "invoice_pending_expected",
				Help: "Expected invoices awaiting an artifact",
			},
		),
	}
}

// RecordTick records one polling tick outcome and duration.
func (m *Metrics) RecordTick(result string, seconds float64) {
	if m == nil {
		return
	}
	m.PollTicks.WithLabelValues(result).Inc()
	m.TickDuration.Observe(seconds)
}

// RecordObjects counts listed objects.
func (m *Metrics) RecordObjects(n int) {
	if m == nil {
		return
	}
	m.ObjectsListed.Add(float64(n))
}

// RecordProcessed counts one processed invoice (path: fetched, renotified).
func (m *Metrics) RecordProcessed(path string) {
	if m == nil {
		return
	}
	m.InvoicesProcessed.WithLabelValues(path).Inc()
}

// RecordFailure counts one pipeline failure at the given stage.
func (m *Metrics) RecordFailure(stage string) {
	if m == nil {
		return
	}
	m.InvoiceFailures.WithLabelValues(stage).Inc()
}

// RecordExpiration counts one dropped registration.
func (m *Metrics) RecordExpiration() {
	if m == nil {
		return
	}
	m.Expirations.Inc()
}

// RecordDelivery counts one delivery callback outcome.
func (m *Metrics) RecordDelivery(delivered bool) {
	if m == nil {
		return
	}
	result := "offline"
	if delivered {
		result = "delivered"
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

// SetActiveSessions updates the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordFrame counts one inbound frame by type.
func (m *Metrics) RecordFrame(frameType string) {
	if m == nil {
		return
	}
	m.InboundFrames.WithLabelValues(frameType).Inc()
}

// SetPendingExpected updates the registry-size gauge.
func (m *Metrics) SetPendingExpected(n int) {
	if m == nil {
		return
	}
	m.PendingExpected.Set(float64(n))
}
