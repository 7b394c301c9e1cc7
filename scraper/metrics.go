package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry         *prometheus.Registry
	TasksTotal       *prometheus.CounterVec
	RenderDuration   *prometheus.HistogramVec
	ErrorsTotal      *prometheus.CounterVec
	RetryRoundsTotal prometheus.Counter
	BatchesPersisted prometheus.Counter
	IndexUnits       *prometheus.GaugeVec
	InFlight         prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	tasks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_tasks_total",
			Help: "Fetch tasks resolved, by final status of the attempt.",
		},
		[]string{"status"},
	)
	renderDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_render_duration_seconds",
			Help:    "Page render latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	retryRounds := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retry_rounds_total",
			Help: "Retry rounds started over failed tasks.",
		},
	)
	batches := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_batches_persisted_total",
			Help: "Batches merged into state and persisted.",
		},
	)
	indexUnits := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scraper_index_units",
			Help: "Unit ids found on a faction listing page.",
		},
		[]string{"faction"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_renders_in_flight",
			Help: "Renders currently holding an admission slot.",
		},
	)

	registry.MustRegister(tasks, renderDuration, errorsTotal, retryRounds, batches, indexUnits, inFlight)

	return &Metrics{
		Registry:         registry,
		TasksTotal:       tasks,
		RenderDuration:   renderDuration,
		ErrorsTotal:      errorsTotal,
		RetryRoundsTotal: retryRounds,
		BatchesPersisted: batches,
		IndexUnits:       indexUnits,
		InFlight:         inFlight,
	}
}

// IncTask counts a task resolution.
func (m *Metrics) IncTask(status string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(status).Inc()
}

// ObserveRender records a render duration for kind (listing or unit).
func (m *Metrics) ObserveRender(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.RenderDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncRetryRound increments the retry round counter.
func (m *Metrics) IncRetryRound() {
	if m == nil {
		return
	}
	m.RetryRoundsTotal.Inc()
}

// IncBatch increments the persisted batch counter.
func (m *Metrics) IncBatch() {
	if m == nil {
		return
	}
	m.BatchesPersisted.Inc()
}

// SetIndexUnits records the unit count found for a faction.
func (m *Metrics) SetIndexUnits(faction string, n int) {
	if m == nil {
		return
	}
	m.IndexUnits.WithLabelValues(faction).Set(float64(n))
}

// AddInFlight moves the in-flight gauge by delta.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}
