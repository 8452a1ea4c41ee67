package notify

import (
	"time"
)

type EventType string

const (
	// decision with HIGH or CRITICAL priority
	EventHighRisk    EventType = "high_risk"
	EventChildSafety EventType = "child_safety"
	EventEscalation  EventType = "escalation"
	EventReview      EventType = "review"
)

func (t EventType) Valid() bool {
	switch t {
	case EventHighRisk, EventChildSafety, EventEscalation, EventReview:
		return true
	}
	return false
}

type Event struct {
	Type      EventType `json:"event"`
	ContentID string    `json:"content_id"`
	Timestamp time.Time `json:"timestamp"`
	Priority  string    `json:"priority,omitempty"`
	RiskScore *int      `json:"risk_score,omitempty"`
	Action    string    `json:"action,omitempty"`
	Queue     string    `json:"queue,omitempty"`
	AuditHash string    `json:"audit_hash,omitempty"`
	// event specific detail, eg an escalation or review snapshot
	Data any `json:"data,omitempty"`
}
