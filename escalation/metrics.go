package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var escalationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_escalations_created",
	Help: "Number of escalations opened, by priority",
}, []string{"priority"})

var escalationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harmlens_escalation_transitions",
	Help: "Number of escalation status updates, by resulting status",
}, []string{"status"})
