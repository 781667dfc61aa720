package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pop_status_transitions_total",
		Help: "Payment verification status changes.",
	}, []string{"from", "to"})

	ReconciliationMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pop_reconciliation_matches_total",
		Help: "Links made by the reconciliation matcher.",
	}, []string{"pass"})

	ExtractionFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pop_extraction_fallbacks_total",
		Help: "Extractions that degraded to the safe default result.",
	})

	ImportedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pop_bank_import_rows_total",
		Help: "Bank statement rows seen by the import deduplicator.",
	}, []string{"outcome"})
)
