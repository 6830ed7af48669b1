// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics records loop progress as Prometheus metrics. A CLI run
// writes them to a node-exporter textfile when it ends.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/pdiddy/trial-engine/internal/loop"
)

// Collector implements loop.Progress. Each collector owns its registry so
// several can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	iterationsTotal  *prometheus.CounterVec
	correctionsTotal *prometheus.CounterVec
	iterationQuality *prometheus.HistogramVec
	stepDuration     *prometheus.HistogramVec
	criticalIssues   *prometheus.GaugeVec

	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	kind    string
	started map[string]time.Time
}

// NewCollector creates a collector whose metrics carry namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
		now:      time.Now,
		started:  make(map[string]time.Time),
	}

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of loop runs by terminal status",
		},
		[]string{"kind", "status"},
	)

	c.iterationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Total number of validated iterations",
		},
		[]string{"kind"},
	)

	c.correctionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrections_total",
			Help:      "Total number of completed correction rounds",
		},
		[]string{"kind"},
	)

	c.iterationQuality = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_quality",
			Help:      "Overall quality of each validated iteration",
			Buckets:   []float64{0.3, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		},
		[]string{"kind"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of loop steps in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind", "step"},
	)

	c.criticalIssues = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_critical_issues",
			Help:      "Critical issues reported by the most recent validation",
		},
		[]string{"kind"},
	)

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Event records one loop progress event.
func (c *Collector) Event(step, status string, payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if step == loop.StepLoop && status == "started" {
		if k, ok := payload["kind"].(string); ok {
			c.kind = k
		}
	}
	kind := c.kind

	switch status {
	case "started":
		c.started[step] = c.now()
		return
	default:
		if t, ok := c.started[step]; ok {
			c.stepDuration.WithLabelValues(kind, step).Observe(c.now().Sub(t).Seconds())
			delete(c.started, step)
		}
	}

	switch step {
	case loop.StepValidate:
		c.iterationsTotal.WithLabelValues(kind).Inc()
		if q, ok := payload["overall_quality"].(float64); ok {
			c.iterationQuality.WithLabelValues(kind).Observe(q)
		}
		if n, ok := payload["critical_issues"].(int); ok {
			c.criticalIssues.WithLabelValues(kind).Set(float64(n))
		}
	case loop.StepCorrect:
		c.correctionsTotal.WithLabelValues(kind).Inc()
	case loop.StepLoop:
		s, _ := payload["status"].(string)
		c.runsTotal.WithLabelValues(kind, s).Inc()
		c.logger.Debug("run recorded", zap.String("kind", kind), zap.String("status", s))
	}
}

// WriteTextfile writes every metric to path in the Prometheus text format.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
