package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook requests by event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subscription",
		Subsystem: "api",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subscription",
		Subsystem: "api",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// WebhookOutcomesTotal counts handled events by reconciliation outcome.
	WebhookOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subscription",
		Subsystem: "api",
		Name:      "webhook_outcomes_total",
		Help:      "Handled Stripe events by outcome (processed/blocked/deferred/ignored/duplicate).",
	}, []string{"outcome"})

	// OperationsTotal counts subscription operations and their result.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subscription",
		Subsystem: "api",
		Name:      "operations_total",
		Help:      "Subscription operations (cancel/reactivate/sync/delete_account) by result.",
	}, []string{"operation", "result"})

	// SweeperCancelsTotal counts provider cancels re-issued for deleted accounts.
	SweeperCancelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subscription",
		Subsystem: "sweeper",
		Name:      "cancels_total",
		Help:      "Provider cancels re-issued by the account sweeper by result.",
	}, []string{"result"})
)

// ObserveOperation records the result of a subscription operation.
func ObserveOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(operation, result).Inc()
}
