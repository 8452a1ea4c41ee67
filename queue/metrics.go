package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var entriesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_queue_entries_created",
	Help: "Number of moderation queue entries created, by priority",
}, []string{"priority"})

var reviewsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_queue_reviews",
	Help: "Number of queue reviews recorded, by decision",
}, []string{"decision"})

var reviewConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "harmlens_queue_review_conflicts",
	Help: "Number of reviews rejected because the entry already had a different review",
})
