package validation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "compliance",
			Subsystem: "validation",
			Name:      "total",
			Help:      "Total number of transaction validations by final status",
		},
		[]string{"status"},
	)

	validationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "compliance",
			Subsystem: "validation",
			Name:      "duration_seconds",
			Help:      "Transaction validation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
	)

	violationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "compliance",
			Subsystem: "validation",
			Name:      "violations_total",
			Help:      "Total number of violations raised, by code",
		},
		[]string{"code"},
	)

	ledgerCommitConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "compliance",
			Subsystem: "ledger",
			Name:      "commit_conflicts_total",
			Help:      "Commits rejected because a concurrent transaction filled the bucket first",
		},
	)
)
