package policy

import (
	"github.com/harmlens/harmlens/scoring"
)

const (
	QueueChildSafety = "Child Safety"
	QueueMonitoring  = "Automated Monitoring"
	QueueSampling    = "Automated + Sampling Review"
	QueuePriority    = "Priority Review Queue"
)

// Decision is the routing outcome for one assessment.
type Decision struct {
	Action    string   `json:"action"`
	Priority  Priority `json:"priority"`
	Queue     string   `json:"queue"`
	Rationale string   `json:"rationale"`
	Steps     []string `json:"recommended_steps"`
}

// The rule table is static so that replaying an audit record yields exactly the same decision text.
var (
	childSafetyDecision = Decision{
		Action:    "ESCALATE IMMEDIATELY",
		Priority:  PriorityCritical,
		Queue:     QueueChildSafety,
		Rationale: "Child safety concern requires immediate human review by specialized team.",
		Steps: []string{
			"Route to Child Safety specialists",
			"Preserve all evidence",
			"Immediate review required (SLA: <15 min)",
			"Consider account investigation",
		},
	}
	lowDecision = Decision{
		Action:    "Monitor",
		Priority:  PriorityLow,
		Queue:     QueueMonitoring,
		Rationale: "Low harm risk. Continue automated monitoring for patterns.",
		Steps: []string{
			"Log for pattern analysis",
			"No immediate action required",
			"Track engagement metrics",
			"Re-evaluate if viral spread detected",
		},
	}
	mediumDecision = Decision{
		Action:    "Add Warning / Reduce Reach",
		Priority:  PriorityMedium,
		Queue:     QueueSampling,
		Rationale: "Moderate harm risk. Apply soft interventions to reduce potential spread.",
		Steps: []string{
			"Append context/fact-check label if available",
			"Reduce algorithmic amplification",
			"Flag for random sampling review",
			"Monitor user reports",
		},
	}
	highDecision = Decision{
		Action:    "Human Review Required",
		Priority:  PriorityHigh,
		Queue:     QueuePriority,
		Rationale: "High harm risk. Requires human judgment before further action.",
		Steps: []string{
			"Route to human moderators immediately",
			"Temporarily reduce reach pending review",
			"Review account history",
			"Prepare for potential removal/suspension",
		},
	}
)

// Policy maps assessments to decisions. Bands follow the scoring thresholds so labels and priorities agree.
type Policy struct {
	LowMax    int
	MediumMax int
}

func New(cfg scoring.Config) Policy {
	return Policy{LowMax: cfg.LowMax, MediumMax: cfg.MediumMax}
}

var defaultPolicy = New(scoring.DefaultConfig())

// Decide applies the default policy.
func Decide(a scoring.Assessment) Decision {
	return defaultPolicy.Decide(a)
}

// Decide returns the first matching rule. Child escalation always wins.
func (p Policy) Decide(a scoring.Assessment) Decision {
	var d Decision
	switch {
	case a.ChildEscalation:
		d = childSafetyDecision
	case a.Score <= p.LowMax:
		d = lowDecision
	case a.Score <= p.MediumMax:
		d = mediumDecision
	default:
		d = highDecision
	}
	// callers must not be able to mutate the table
	d.Steps = append([]string(nil), d.Steps...)
	return d
}
