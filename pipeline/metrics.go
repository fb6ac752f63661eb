package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step outcomes recorded by Metrics.
const (
	OutcomeExecuted = "executed"
	OutcomeCached   = "cached"
	OutcomeError    = "error"
)

// Metrics collects Prometheus metrics for step and pool execution.
//
// Metrics exposed (all namespaced with "chatpipe_"):
//
//  1. inflight_tasks (gauge): worker pool tasks currently executing.
//  2. task_latency_ms (histogram): task duration in milliseconds.
//     Labels: pool, status (success/error).
//  3. step_executions_total (counter): step invocations by outcome.
//     Labels: step, outcome (executed/cached/error).
//  4. cache_lookups_total (counter): stage store lookups made by cached steps.
//     Labels: stage, result (hit/miss).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := pipeline.NewMetrics(registry)
//	runner := pipeline.NewRunner(stages, run, pipeline.WithMetrics(metrics))
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	inflightTasks  prometheus.Gauge
	taskLatency    *prometheus.HistogramVec
	stepExecutions *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics creates and registers the pipeline metrics with registry
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		enabled:  true,
	}

	m.inflightTasks = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatpipe",
		Name:      "inflight_tasks",
		Help:      "Worker pool tasks currently executing",
	})

	m.taskLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatpipe",
		Name:      "task_latency_ms",
		Help:      "Worker pool task duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
	}, []string{"pool", "status"})

	m.stepExecutions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpipe",
		Name:      "step_executions_total",
		Help:      "Step invocations by outcome",
	}, []string{"step", "outcome"})

	m.cacheLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpipe",
		Name:      "cache_lookups_total",
		Help:      "Stage store lookups made by cached steps",
	}, []string{"stage", "result"})

	return m
}

func (m *Metrics) on() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// TaskStarted marks a pool task as in flight.
func (m *Metrics) TaskStarted() {
	if !m.on() {
		return
	}
	m.inflightTasks.Inc()
}

// TaskFinished records the latency of a pool task and removes it from the in-flight gauge.
func (m *Metrics) TaskFinished(pool string, latency time.Duration, status string) {
	if !m.on() {
		return
	}
	m.inflightTasks.Dec()
	m.taskLatency.WithLabelValues(pool, status).Observe(float64(latency.Milliseconds()))
}

// RecordStep counts one step invocation with the given outcome.
func (m *Metrics) RecordStep(step, outcome string) {
	if !m.on() {
		return
	}
	m.stepExecutions.WithLabelValues(step, outcome).Inc()
}

// RecordCacheLookup counts a stage lookup as a hit or a miss.
func (m *Metrics) RecordCacheLookup(stage string, hit bool) {
	if !m.on() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(stage, result).Inc()
}

// Disable temporarily disables metric recording.
func (m *Metrics) Disable() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable re-enables metric recording after Disable.
func (m *Metrics) Enable() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

// Reset zeroes the in-flight gauge. Counters and histograms are cumulative.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflightTasks.Set(0)
}
