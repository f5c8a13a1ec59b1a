package audit

import (
	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var auditEntries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalrelay",
		Subsystem: "audit",
		Name:      "entries_total",
		Help:      "Total audit entries recorded by action",
	},
	[]string{"action"},
)

func recordEntry(action domain.AuditAction) {
	auditEntries.WithLabelValues(string(action)).Inc()
}
