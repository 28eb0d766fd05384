package dosguard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clio_dosguard_requests_denied_total",
		Help: "Total number of requests rejected with slowDown",
	})

	connectionsDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clio_dosguard_connections_denied_total",
		Help: "Total number of connections refused for exceeding the per-IP limit",
	})

	storeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clio_dosguard_store_errors_total",
		Help: "Total number of request counter errors (the guard fails open)",
	})
)
