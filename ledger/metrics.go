package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var blocksAppended = promauto.NewCounter(prometheus.CounterOpts{
	Name: "harmlens_ledger_blocks_appended",
	Help: "Number of audit blocks appended",
})

var verifyFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "harmlens_ledger_verify_failures",
	Help: "Number of verifications which found an integrity violation",
})

var headSeq = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "harmlens_ledger_head_seq",
	Help: "Sequence number of the last appended audit block",
})
