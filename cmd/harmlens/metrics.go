package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_job_runs",
	Help: "Number of scheduled job runs, by job and outcome",
}, []string{"job", "outcome"})

var auditChainValid = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "harmlens_audit_chain_valid",
	Help: "1 if the last scheduled audit chain verification passed, 0 if it found a violation",
})

var auditChainBlocks = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "harmlens_audit_chain_blocks_checked",
	Help: "Number of blocks checked by the last scheduled audit chain verification",
})
