// Package metrics defines the Prometheus collectors for the flow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine records into. Construct one per
// process with New and inject it where needed; the package keeps no global
// state beyond the registry handed in.
type Metrics struct {
	registry *prometheus.Registry

	// Scoring.
	Evaluations    *prometheus.CounterVec   // by kind: entry | exit
	EvaluationTime *prometheus.HistogramVec // seconds, by kind
	CompositeScore prometheus.Histogram
	ExitUrgency    prometheus.Histogram

	// Decisions.
	Decisions     *prometheus.CounterVec // by decision: open | reduce | close | displace | reject
	Displacements *prometheus.CounterVec // by outcome: allowed | min_hold_not_met | score_delta_insufficient | no_thesis_dominance
	OpenPositions prometheus.Gauge

	// Learner.
	LearnerAdjustments *prometheus.CounterVec // by action: increase | decrease | decay
	LearnerOutcomes    prometheus.Counter

	// Intake.
	IntelFetches    *prometheus.CounterVec // by result: ok | error
	FeedStaleness   prometheus.Gauge       // seconds since the oldest watched bundle refreshed
	StreamMalformed prometheus.Gauge
	BreakerOpen     prometheus.Gauge // 1 when the provider breaker is open
}

// New creates the collector set and registers it on the given registry. Pass
// prometheus.NewRegistry() in production; tests can hand in their own.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,

		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbot_evaluations_total",
			Help: "Scoring evaluations performed, by kind.",
		}, []string{"kind"}),
		EvaluationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowbot_evaluation_seconds",
			Help:    "Scoring evaluation latency, by kind.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"kind"}),
		CompositeScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowbot_composite_score",
			Help:    "Distribution of composite entry scores.",
			Buckets: prometheus.LinearBuckets(0, 0.5, 17), // 0..8
		}),
		ExitUrgency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowbot_exit_urgency",
			Help:    "Distribution of exit urgency scores.",
			Buckets: prometheus.LinearBuckets(0, 0.5, 21), // 0..10
		}),

		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbot_decisions_total",
			Help: "Pipeline decisions, by outcome.",
		}, []string{"decision"}),
		Displacements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbot_displacements_total",
			Help: "Displacement policy evaluations, by result.",
		}, []string{"result"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowbot_open_positions",
			Help: "Number of currently open positions.",
		}),

		LearnerAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbot_learner_adjustments_total",
			Help: "Weight multiplier adjustments, by action.",
		}, []string{"action"}),
		LearnerOutcomes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowbot_learner_outcomes_total",
			Help: "Trade outcomes folded into the learner.",
		}),

		IntelFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbot_intel_fetches_total",
			Help: "Intelligence sweep fetches, by result.",
		}, []string{"result"}),
		FeedStaleness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowbot_feed_staleness_seconds",
			Help: "Seconds since the oldest watched symbol's bundle refreshed.",
		}),
		StreamMalformed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowbot_stream_malformed_frames",
			Help: "Malformed WebSocket frames skipped since startup.",
		}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowbot_breaker_open",
			Help: "1 when the provider circuit breaker is open.",
		}),
	}

	reg.MustRegister(
		m.Evaluations, m.EvaluationTime, m.CompositeScore, m.ExitUrgency,
		m.Decisions, m.Displacements, m.OpenPositions,
		m.LearnerAdjustments, m.LearnerOutcomes,
		m.IntelFetches, m.FeedStaleness, m.StreamMalformed, m.BreakerOpen,
	)
	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
