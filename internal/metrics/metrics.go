// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategy_transitions_total",
			Help: "Status transitions applied, by entity and target status",
		},
		[]string{"entity", "from", "to"},
	)

	Rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategy_command_rejections_total",
			Help: "Commands rejected by the workflow, by entity and error kind",
		},
		[]string{"entity", "kind"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strategy_generation_duration_seconds",
			Help:    "Duration of background generation jobs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"kind", "outcome"},
	)

	JobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strategy_jobs_active",
			Help: "Background jobs currently running",
		},
		[]string{"kind"},
	)

	AutosaveSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategy_autosave_saves_total",
			Help: "Saves issued by the autosave scheduler, by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategy_llm_tokens_total",
			Help: "Claude tokens consumed, by purpose and direction",
		},
		[]string{"purpose", "direction"},
	)

	LLMCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategy_llm_cost_usd_total",
			Help: "Estimated Claude spend in USD, by purpose",
		},
		[]string{"purpose"},
	)

	ExternalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategy_external_failures_total",
			Help: "Failures from generation and delivery services",
		},
		[]string{"service"},
	)
)

// Outcome returns the label value for an operation result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
