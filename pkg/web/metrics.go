package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// webRequests tracks inbound messages by transport
	webRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clio_web_requests_total",
			Help: "Total number of requests received by transport",
		},
		[]string{"transport"}, // "http", "ws"
	)

	webSlowDowns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clio_web_slow_down_total",
			Help: "Total number of requests answered with slowDown by transport",
		},
		[]string{"transport"},
	)

	wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clio_web_ws_connections",
			Help: "Number of open websocket connections",
		},
	)

	wsDroppedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clio_web_ws_dropped_total",
			Help: "Total number of websocket connections closed because their sending queue was full",
		},
	)
)
