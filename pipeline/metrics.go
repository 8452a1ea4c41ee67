package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var analyses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_analyses",
	Help: "Number of content items analyzed, by risk label",
}, []string{"label"})

var analysesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_analyses_failed",
	Help: "Number of analyses which returned no decision, by stage",
}, []string{"stage"})

var persistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_persist_failures",
	Help: "Number of side effects which failed after a decision was made, by stage",
}, []string{"stage"})

var analyzeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "harmlens_analyze_duration_seconds",
	Help:    "End-to-end time to analyze and record one content item",
	Buckets: prometheus.ExponentialBuckets(0.001, 3, 10),
})

var overdueEscalations = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "harmlens_escalations_overdue",
	Help: "Open escalations past their response deadline at the last sweep",
})
