package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clio_subscriptions",
		Help: "Number of connections subscribed per stream",
	}, []string{"stream"})

	published = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clio_subscription_messages_total",
		Help: "Total number of messages delivered to subscribers per stream",
	}, []string{"stream"})
)
