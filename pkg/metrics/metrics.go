// Package metrics exposes the router's accounting counters. Every ingested
// alert ends up in at least one of: delivered, suppressed, buffered in a
// pending group, or rejected as malformed.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AlertsReceived counts accepted alert events by state.
	AlertsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuroca",
		Subsystem: "alert_router",
		Name:      "alerts_received_total",
		Help:      "Number of accepted alert events by state.",
	}, []string{"state"})

	// AlertsInvalid counts rejected malformed alert events.
	AlertsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "neuroca",
		Subsystem: "alert_router",
		Name:      "alerts_invalid_total",
		Help:      "Number of alert events rejected as malformed.",
	})

	// AlertsSuppressed counts alerts withheld from a notification batch.
	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuroca",
		Subsystem: "alert_router",
		Name:      "alerts_suppressed_total",
		Help:      "Number of alerts suppressed from notifications, by reason.",
	}, []string{"reason"})

	// NotificationsTotal counts notification batches handed to a receiver.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuroca",
		Subsystem: "alert_router",
		Name:      "notifications_total",
		Help:      "Number of notification batches dispatched, by receiver.",
	}, []string{"receiver"})

	// NotificationFailures counts batches whose delivery failed after all
	// retries were exhausted.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuroca",
		Subsystem: "alert_router",
		Name:      "notification_failures_total",
		Help:      "Number of notification batches that failed delivery, by receiver.",
	}, []string{"receiver"})

	// ActiveGroups tracks the number of live aggregation groups.
	ActiveGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "neuroca",
		Subsystem: "alert_router",
		Name:      "active_groups",
		Help:      "Number of active aggregation groups.",
	})
)

// Suppression reasons.
const (
	ReasonSilenced  = "silenced"
	ReasonInhibited = "inhibited"
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
