package signals

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var detectorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_detector_errors",
	Help: "Number of detector failures, by signal family",
}, []string{"family"})

var collectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "harmlens_signal_collect_duration_seconds",
	Help:    "Time to run all detectors for one content item",
	Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
})
