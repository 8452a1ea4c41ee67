package policy

import (
	"fmt"
	"strings"
)

type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Rank orders priorities for review scheduling: CRITICAL is 1, LOW is 4. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	}
	return 5
}

func (p Priority) Valid() bool {
	return p.Rank() <= 4
}

// Queueable reports whether decisions at this priority get a moderation queue entry.
func (p Priority) Queueable() bool {
	return p == PriorityCritical || p == PriorityHigh || p == PriorityMedium
}

// ParsePriority accepts any letter case.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority: %q", raw)
	}
	return p, nil
}
