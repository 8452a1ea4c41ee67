package escalation

import (
	"fmt"
	"strings"
	"time"

	"github.com/harmlens/harmlens/policy"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusResponded  Status = "responded"
	StatusResolved   Status = "resolved"
)

// position in the lifecycle; used to reject backward moves
func (s Status) order() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusResponded:
		return 2
	case StatusResolved:
		return 3
	}
	return -1
}

func (s Status) Valid() bool {
	return s.order() >= 0
}

func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if s == "in_progress" {
		s = StatusInProgress
	}
	if !s.Valid() {
		return "", fmt.Errorf("unknown escalation status: %q", raw)
	}
	return s, nil
}

var strictTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusResponded, StatusResolved},
	StatusResponded:  {StatusResolved},
}

// CanTransition reports whether from -> to is allowed. Staying in the same state is always allowed. With
// allowSkip, any forward move is allowed. Backward moves never are.
func CanTransition(from, to Status, allowSkip bool) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if allowSkip {
		return to.order() > from.order()
	}
	for _, s := range strictTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ResponseTimeEstimate is the SLA text for a priority, fixed at creation.
func ResponseTimeEstimate(p policy.Priority) string {
	switch p {
	case policy.PriorityCritical:
		return "< 1 hour"
	case policy.PriorityHigh:
		return "2-4 hours"
	case policy.PriorityMedium:
		return "4-8 hours"
	default:
		return "24-48 hours"
	}
}

// ResponseDeadline is the upper bound of the SLA estimate for a priority.
func ResponseDeadline(p policy.Priority) time.Duration {
	switch p {
	case policy.PriorityCritical:
		return time.Hour
	case policy.PriorityHigh:
		return 4 * time.Hour
	case policy.PriorityMedium:
		return 8 * time.Hour
	default:
		return 48 * time.Hour
	}
}
