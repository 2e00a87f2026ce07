// Package metrics exposes solver telemetry as Prometheus collectors.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/jobshop-de/internal/optimization"
)

const namespace = "jobshop_de"

// Metrics implements de.Recorder on top of Prometheus collectors.
type Metrics struct {
	Generations  *prometheus.CounterVec
	Evaluations  *prometheus.CounterVec
	Improvements *prometheus.CounterVec
	BestMakespan *prometheus.GaugeVec
	Runs         *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	ActiveJobs   prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which keeps tests independent of the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Completed DE generations.",
		}, []string{"strategy"}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Makespan evaluations performed.",
		}, []string{"strategy"}),
		Improvements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "improvements_total",
			Help:      "Trials that replaced their parent.",
		}, []string{"strategy"}),
		BestMakespan: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_makespan",
			Help:      "Best makespan of the most recent generation.",
		}, []string{"strategy"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished optimization runs by outcome.",
		}, []string{"strategy", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of optimization runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"strategy"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Schedule jobs currently pending or running.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Generations,
			m.Evaluations,
			m.Improvements,
			m.BestMakespan,
			m.Runs,
			m.RunDuration,
			m.ActiveJobs,
		)
	}
	return m
}

// ObserveGeneration records one generation.
func (m *Metrics) ObserveGeneration(strategy string, stat optimization.GenerationStat) {
	if stat.Generation > 0 {
		m.Generations.WithLabelValues(strategy).Inc()
	}
	m.Evaluations.WithLabelValues(strategy).Add(float64(stat.Evaluations))
	m.Improvements.WithLabelValues(strategy).Add(float64(stat.Improvements))
	m.BestMakespan.WithLabelValues(strategy).Set(float64(stat.BestMakespan))
}

// ObserveRun records the outcome of one run.
func (m *Metrics) ObserveRun(strategy string, result *optimization.OptimizationResult, err error) {
	outcome := "completed"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	case err != nil:
		outcome = "failed"
	}
	m.Runs.WithLabelValues(strategy, outcome).Inc()
	if result != nil {
		m.RunDuration.WithLabelValues(strategy).Observe(result.Duration.Seconds())
	}
}
