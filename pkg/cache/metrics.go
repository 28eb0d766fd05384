package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks forwarding cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clio_forward_cache_hits_total",
			Help: "Total number of forwarding cache hits",
		},
	)

	// CacheMisses tracks forwarding cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clio_forward_cache_misses_total",
			Help: "Total number of forwarding cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clio_forward_cache_errors_total",
			Help: "Total number of forwarding cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
