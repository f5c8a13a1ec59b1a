package channels

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var channelsDiscovered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalrelay",
		Subsystem: "channels",
		Name:      "discovered_total",
		Help:      "Channels seen by discovery runs by outcome",
	},
	[]string{"outcome"},
)
