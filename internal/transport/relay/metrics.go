package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var relayRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalrelay",
		Subsystem: "relay",
		Name:      "requests_total",
		Help:      "Total relayed Bot API calls by endpoint and result",
	},
	[]string{"endpoint", "result"},
)
