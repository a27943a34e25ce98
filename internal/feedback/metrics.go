package feedback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerdictsTotal counts fully recorded verdicts by polarity.
	// Labels: polarity (positive, negative)
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesora",
			Subsystem: "feedback",
			Name:      "verdicts_total",
			Help:      "Total number of fully recorded verdicts by polarity",
		},
		[]string{"polarity"},
	)

	// QueueDepth tracks the current indexing queue depth.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mesora",
			Subsystem: "feedback",
			Name:      "index_queue_depth",
			Help:      "Current number of ground-truth examples waiting to be indexed",
		},
	)

	// QueueDrops counts examples dropped because the queue was full.
	QueueDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mesora",
			Subsystem: "feedback",
			Name:      "index_queue_drops_total",
			Help:      "Total number of ground-truth examples dropped from a full indexing queue",
		},
	)

	// IndexedTotal counts background indexing attempts.
	// Labels: result (success, error)
	IndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesora",
			Subsystem: "feedback",
			Name:      "indexed_total",
			Help:      "Total number of background ground-truth indexing attempts",
		},
		[]string{"result"},
	)
)
