package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRegistry is shared by the worker and the API server so both expose
// the same collectors on /metrics.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		BatchProcessingTime,
		BatchMessagesTotal,
		BatchSuccessRate,
		LockConflictsTotal,
		DuplicateDocumentsTotal,
	)
}

// BatchProcessingTime is the wall-clock duration of one delivered batch.
var BatchProcessingTime = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ingest_batch_processing_seconds",
		Help:    "Wall-clock duration of one delivered queue batch.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"queue"},
)

// BatchMessagesTotal counts per-message dispositions.
var BatchMessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ingest_batch_messages_total",
		Help: "Messages processed, by queue and disposition.",
	},
	[]string{"queue", "outcome"}, // ack | retry | drop
)

// BatchSuccessRate is the success ratio of the most recent batch per queue.
var BatchSuccessRate = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "ingest_batch_success_rate",
		Help: "Success ratio of the most recently completed batch.",
	},
	[]string{"queue"},
)

// LockConflictsTotal counts acquire attempts rejected because another worker
// held the lock.
var LockConflictsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ingest_lock_conflicts_total",
		Help: "Lock acquisitions rejected due to a competing holder.",
	},
)

// DuplicateDocumentsTotal counts documents skipped by content-hash dedup.
var DuplicateDocumentsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ingest_duplicate_documents_total",
		Help: "Documents skipped because their content hash was already owned.",
	},
)
