// Package metrics exposes ingestion counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors updated by the ingestion pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reports       *prometheus.CounterVec
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	saveFailures  prometheus.Counter
	inboxErrors   prometheus.Counter
	machines      prometheus.Gauge
	gatherer      prometheus.Gatherer
}

// New registers the diskmon collectors on a fresh registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWith(reg, reg)
}

// NewWith registers the diskmon collectors on reg and serves from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diskmon_reports_total",
			Help: "Report files handled, by outcome.",
		}, []string{"outcome"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diskmon_batches_total",
			Help: "Non-empty inbox batches processed.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "diskmon_batch_duration_seconds",
			Help:    "Time spent processing one inbox batch.",
			Buckets: prometheus.DefBuckets,
		}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diskmon_save_failures_total",
			Help: "Failed attempts to persist the consolidated state.",
		}),
		inboxErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diskmon_inbox_errors_total",
			Help: "Poll cycles that failed or panicked.",
		}),
		machines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "diskmon_machines",
			Help: "Machines currently held in the consolidated store.",
		}),
		gatherer: g,
	}
	reg.MustRegister(m.reports, m.batches, m.batchDuration, m.saveFailures, m.inboxErrors, m.machines)
	return m
}

// ObserveReport counts one handled report file.
func (m *Metrics) ObserveReport(outcome string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(outcome).Inc()
}

// ObserveBatch counts one processed batch and its duration.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.batchDuration.Observe(d.Seconds())
}

// SaveFailed counts one failed persist attempt.
func (m *Metrics) SaveFailed() {
	if m == nil {
		return
	}
	m.saveFailures.Inc()
}

// InboxError counts one failed poll cycle.
func (m *Metrics) InboxError() {
	if m == nil {
		return
	}
	m.inboxErrors.Inc()
}

// SetMachines records the current machine count.
func (m *Metrics) SetMachines(n int) {
	if m == nil {
		return
	}
	m.machines.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
