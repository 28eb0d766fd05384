package etl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedLedgers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clio_etl_published_ledgers_total",
		Help: "Total number of ledgers published",
	})

	publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clio_etl_publish_duration_seconds",
		Help:    "Time to write and publish one ledger",
		Buckets: prometheus.DefBuckets,
	})

	lastPublishedSeq = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clio_etl_last_published_sequence",
		Help: "Sequence of the newest published ledger",
	})
)
