package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_notify_events_published",
	Help: "Number of notification events accepted for delivery, by type",
}, []string{"type"})

var eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "harmlens_notify_events_dropped",
	Help: "Number of notification events dropped because the queue was full or closed",
})

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_notify_deliveries",
	Help: "Number of notification delivery attempts, by sink kind and outcome",
}, []string{"sink", "outcome"})

var deliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "harmlens_notify_delivery_duration_seconds",
	Help:    "Time spent delivering one event to one sink",
	Buckets: prometheus.ExponentialBuckets(0.005, 3, 8),
})
