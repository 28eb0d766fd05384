package pebble

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// storeReads tracks store operations by kind and result
	storeReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clio_backend_reads_total",
			Help: "Total number of ledger store reads",
		},
		[]string{"op", "result"}, // result: "ok", "not_found", "error", "timeout"
	)

	storeReadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clio_backend_read_duration_seconds",
			Help:    "Ledger store read duration",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"op"},
	)

	storeWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clio_backend_ledgers_written_total",
			Help: "Total number of ledgers written to the store",
		},
	)
)
