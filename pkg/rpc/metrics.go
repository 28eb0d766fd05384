package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// rpcRequests tracks handled requests by method and outcome
	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clio_rpc_requests_total",
			Help: "Total number of RPC requests by method and result",
		},
		[]string{"method", "result"}, // "finished", "errored", "forwarded", "failed_forward"
	)

	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clio_rpc_duration_seconds",
			Help:    "RPC handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	rpcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clio_rpc_errors_total",
			Help: "Total number of requests rejected before or outside a handler",
		},
		[]string{"kind"}, // "too_busy", "not_ready", "bad_syntax", "unknown_command", "internal"
	)

	queueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clio_work_queue_size",
			Help: "Number of requests waiting in the work queue",
		},
	)
)
