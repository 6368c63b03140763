// Package metrics holds the Prometheus collectors of the booking core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_created_total",
		Help: "The total number of bookings created",
	})
	BookingConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_conflicts_total",
		Help: "The total number of booking requests rejected because the vehicle was taken",
	})
	BookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "The total number of booking status transitions",
	}, []string{"from", "to"})

	PaymentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_processed_total",
		Help: "The total number of payment attempts by outcome",
	}, []string{"outcome"})
	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_duration_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
	ReconciliationRequired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_required_total",
		Help: "The total number of payments whose gateway outcome could not be committed locally",
	})
	ReconciliationResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_resolved_total",
		Help: "The total number of reconciled payments by resolution",
	}, []string{"resolution"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_sent_total",
		Help: "The total number of notification deliveries by result",
	}, []string{"result"})
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_dropped_total",
		Help: "The total number of notifications dropped because the queue was full",
	})

	OutboxPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "The total number of booking events published to Kafka",
	})
	OutboxPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_publish_errors_total",
		Help: "The total number of failed booking event publish attempts",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "The total number of HTTP requests",
	}, []string{"method", "route", "status"})
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
