package cachestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_signal_cache_lookups",
	Help: "Number of signal cache lookups, by result (hit, miss, corrupt, error)",
}, []string{"result"})
