// Package metrics exposes Prometheus collectors and the health snapshot
// served by /healthz.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newsdesk"

type Metrics struct {
	registry *prometheus.Registry

	ItemsFetched    *prometheus.CounterVec
	ItemsSaved      prometheus.Counter
	ItemsSkipped    *prometheus.CounterVec
	QueryErrors     *prometheus.CounterVec
	Runs            *prometheus.CounterVec
	PhotoCandidates *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec

	mu     sync.RWMutex
	health Health
}

// Health is the last-run snapshot.
type Health struct {
	LastRunTime   time.Time     `json:"last_run_time"`
	LastSource    string        `json:"last_source,omitempty"`
	LastStatus    string        `json:"last_status,omitempty"`
	LastDuration  time.Duration `json:"-"`
	LastErrorTime time.Time     `json:"last_error_time"`
	LastError     string        `json:"last_error,omitempty"`
	RunCount      int64         `json:"run_count"`
	IsHealthy     bool          `json:"is_healthy"`
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		ItemsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Items returned by source adapters",
		}, []string{"source"}),
		ItemsSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_saved_total",
			Help:      "Documents inserted or updated in the corpus",
		}),
		ItemsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_skipped_total",
			Help:      "Items dropped before persistence",
		}, []string{"reason"}),
		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_errors_total",
			Help:      "Failed adapter queries",
		}, []string{"source"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by terminal status",
		}, []string{"source", "status"}),
		PhotoCandidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "photo_candidates_total",
			Help:      "Photo candidates returned by providers",
		}, []string{"provider"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of runs",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"source"}),
		health: Health{IsHealthy: true},
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRun updates counters and the health snapshot for a finished run.
// A failed run marks the process unhealthy until the next non-failed run.
func (m *Metrics) RecordRun(source, status string, duration time.Duration, errMsg string) {
	m.Runs.WithLabelValues(source, status).Inc()
	m.RunDuration.WithLabelValues(source).Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.health.LastRunTime = now
	m.health.LastSource = source
	m.health.LastStatus = status
	m.health.LastDuration = duration
	m.health.RunCount++
	if errMsg != "" {
		m.health.LastError = errMsg
		m.health.LastErrorTime = now
	}
	m.health.IsHealthy = status != "failed"
}

func (m *Metrics) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}
