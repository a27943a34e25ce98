package prefilter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationsTotal counts prefilter evaluations by outcome.
	// Labels: outcome (skip, proceed, fail_open)
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesora",
			Subsystem: "prefilter",
			Name:      "evaluations_total",
			Help:      "Total number of prefilter evaluations by outcome",
		},
		[]string{"outcome"},
	)

	// AutoFindingsTotal counts findings synthesized from approved matches.
	AutoFindingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mesora",
			Subsystem: "prefilter",
			Name:      "auto_findings_total",
			Help:      "Total number of auto-findings synthesized from ground-truth approvals",
		},
	)

	// EvaluationDuration tracks how long evaluations take, retrieval included.
	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mesora",
			Subsystem: "prefilter",
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of prefilter evaluations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
