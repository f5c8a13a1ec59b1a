package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signalrelay"

var (
	notificationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "created_total",
			Help:      "Total notifications created by fan-out",
		},
	)

	messagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "messages_dispatched_total",
			Help:      "Channel posts handled by the dispatcher by outcome",
		},
		[]string{"outcome"},
	)

	pushSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "push_sent_total",
			Help:      "Total push deliveries processed by status",
		},
		[]string{"status"},
	)

	pushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "push_duration_seconds",
			Help:      "Time to deliver a push to the gateway",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	pushQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "push_queue_depth",
			Help:      "Push deliveries waiting in the queue",
		},
	)
)

func recordNotificationsCreated(n int) {
	notificationsCreated.Add(float64(n))
}

func recordDispatch(outcome string) {
	messagesDispatched.WithLabelValues(outcome).Inc()
}

func recordPushSent(status string) {
	pushSent.WithLabelValues(status).Inc()
}

func recordPushDuration(d time.Duration) {
	pushDuration.Observe(d.Seconds())
}
