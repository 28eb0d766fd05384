package ledgercache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheRequests tracks object lookups by result
	cacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clio_ledger_cache_requests_total",
			Help: "Total number of hot cache object lookups",
		},
		[]string{"result"}, // "hit", "miss"
	)

	cacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clio_ledger_cache_objects",
			Help: "Number of objects held by the hot cache",
		},
	)

	cacheFull = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clio_ledger_cache_full",
			Help: "1 once the hot cache holds the complete state",
		},
	)

	// cacheStaleUpdates counts writes dropped because a newer ledger was
	// already recorded
	cacheStaleUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clio_ledger_cache_stale_updates_total",
			Help: "Total number of hot cache writes older than the latest ledger",
		},
	)

	loaderPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clio_cache_loader_pages_total",
			Help: "Total number of pages fetched while loading the hot cache",
		},
	)
)
