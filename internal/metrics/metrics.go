// Package metrics aggregates docking outcomes into Prometheus metrics and
// exports them in node-exporter textfile format.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harrison/dockpipe/internal/models"
)

const namespace = "dockpipe"

// Stage duration buckets in seconds, from sub-second parsing up to long engine runs.
var StageDurationBuckets = []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900, 3600}

// Metrics holds the dockpipe collectors and the registry they live in.
type Metrics struct {
	registry      *prometheus.Registry
	dockTotal     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	bestScore     *prometheus.GaugeVec

	mu   sync.Mutex
	best map[string]float64
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dockTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dock_total",
			Help:      "Docking requests by target, outcome and error kind.",
		}, []string{"target", "status", "kind"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages of successful requests.",
			Buckets:   StageDurationBuckets,
		}, []string{"stage"}),
		bestScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_score",
			Help:      "Lowest docking score seen per target, in kcal/mol.",
		}, []string{"target"}),
		best: make(map[string]float64),
	}
	m.registry.MustRegister(m.dockTotal, m.stageDuration, m.bestScore)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDock counts a finished request. It never fails.
func (m *Metrics) RecordDock(_ context.Context, req models.DockRequest, res *models.DockResult, dockErr error) error {
	if dockErr != nil {
		m.dockTotal.WithLabelValues(req.Target, "failed", models.KindOf(dockErr).String()).Inc()
		return nil
	}
	m.dockTotal.WithLabelValues(req.Target, "success", "").Inc()
	if res == nil {
		return nil
	}
	for _, t := range res.Timings {
		m.stageDuration.WithLabelValues(string(t.Stage)).Observe(t.Duration.Seconds())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.best[req.Target]; !ok || res.Best < prev {
		m.best[req.Target] = res.Best
		m.bestScore.WithLabelValues(req.Target).Set(res.Best)
	}
	return nil
}

// WriteTextfile writes every metric to path in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
