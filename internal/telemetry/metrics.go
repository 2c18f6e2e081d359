// Package telemetry exposes the pipeline's Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	StageExecutions  *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CacheCorruptions *prometheus.CounterVec
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shorts_stage_executions_total",
			Help: "Stage executions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shorts_stage_duration_seconds",
			Help:    "Stage execution latency.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"stage"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shorts_cache_hits_total",
			Help: "Artifact cache hits by stage.",
		}, []string{"stage"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shorts_cache_misses_total",
			Help: "Artifact cache misses by stage.",
		}, []string{"stage"}),
		CacheCorruptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shorts_cache_corruptions_total",
			Help: "Cache entries evicted because their artifact was missing.",
		}, []string{"stage"}),
	}
	reg.MustRegister(m.StageExecutions, m.StageDuration,
		m.CacheHits, m.CacheMisses, m.CacheCorruptions)
	return m
}

// SequencerCallbacks adapts the collectors to the sequencer's hook points.
func (m *Metrics) SequencerCallbacks() pipeline.Metrics {
	return pipeline.Metrics{
		StageDuration: func(stage, outcome string, d time.Duration) {
			m.StageExecutions.WithLabelValues(stage, outcome).Inc()
			m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
		},
		CacheHit:  func(stage string) { m.CacheHits.WithLabelValues(stage).Inc() },
		CacheMiss: func(stage string) { m.CacheMisses.WithLabelValues(stage).Inc() },
	}
}

// CorruptionCallback adapts the corruption counter to the cache hook.
func (m *Metrics) CorruptionCallback() func(stage string) {
	return func(stage string) { m.CacheCorruptions.WithLabelValues(stage).Inc() }
}
