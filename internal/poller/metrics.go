package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signalrelay"

var (
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "polls_total",
			Help:      "Total poll requests by transport mode and result",
		},
		[]string{"mode", "result"},
	)

	messagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "messages_total",
			Help:      "Total channel posts handed to the dispatcher",
		},
	)

	loopsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "loops",
			Help:      "Number of channel loops by state",
		},
		[]string{"state"},
	)

	channelDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "channel_degraded",
			Help:      "1 if the channel loop has failed repeatedly, 0 otherwise",
		},
		[]string{"channel_id"},
	)
)

func recordPoll(mode, result string) {
	pollsTotal.WithLabelValues(mode, result).Inc()
}

func recordStateChange(from, to State) {
	if from != "" {
		loopsByState.WithLabelValues(string(from)).Dec()
	}
	if to != "" {
		loopsByState.WithLabelValues(string(to)).Inc()
	}
}

func recordDegraded(channelID string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1
	}
	channelDegraded.WithLabelValues(channelID).Set(v)
}
