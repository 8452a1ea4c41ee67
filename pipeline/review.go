package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harmlens/harmlens/escalation"
	"github.com/harmlens/harmlens/notify"
	"github.com/harmlens/harmlens/policy"
	"github.com/harmlens/harmlens/queue"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

type ReviewResult struct {
	Entry      *queue.Entry           `json:"entry"`
	AuditSeq   *int64                 `json:"audit_seq,omitempty"`
	AuditHash  string                 `json:"audit_hash,omitempty"`
	Escalation *escalation.Escalation `json:"escalation,omitempty"`
	// false when the review repeated one already recorded
	Changed  bool `json:"changed"`
	Notified bool `json:"notified"`
}

type reviewRecord struct {
	Kind         string          `json:"kind"`
	QueueEntryID uint            `json:"queue_entry_id"`
	QueueName    string          `json:"queue_name"`
	Reviewer     string          `json:"reviewer"`
	Decision     queue.Decision  `json:"decision"`
	Notes        string          `json:"notes,omitempty"`
	Status       queue.Status    `json:"status"`
	Priority     policy.Priority `json:"priority"`
}

// Review records a moderator's decision on a queue entry, sealing it into the ledger in the same
// transaction. An escalate decision also opens a human escalation.
func (p *Pipeline) Review(ctx context.Context, entryID uint, r queue.Review) (*ReviewResult, error) {
	ctx, span := tracer.Start(ctx, "Review", trace.WithAttributes(attribute.Int64("queue_entry_id", int64(entryID))))
	defer span.End()

	if err := r.Validate(); err != nil {
		return nil, err
	}
	cur, err := p.queue.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	res := &ReviewResult{}
	blk, err := p.ledger.AppendWith(ctx, cur.ContentID, func(tx *gorm.DB) (any, error) {
		e, changed, err := p.queue.ReviewTx(tx, entryID, r)
		if err != nil {
			return nil, err
		}
		res.Entry = e
		res.Changed = changed
		if !changed {
			return nil, nil
		}
		return reviewRecord{
			Kind:         "review",
			QueueEntryID: e.ID,
			QueueName:    e.QueueName,
			Reviewer:     r.Reviewer,
			Decision:     r.Decision,
			Notes:        r.Notes,
			Status:       e.Status,
			Priority:     e.Priority,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		return res, nil
	}
	res.AuditSeq = &blk.Seq
	res.AuditHash = blk.Hash

	logger := p.logger.With("content_id", cur.ContentID, "queue_entry", entryID)
	logger.Info("review recorded", "reviewer", r.Reviewer, "decision", r.Decision)

	if r.Decision == queue.DecisionEscalate {
		reason := r.Notes
		if reason == "" {
			reason = fmt.Sprintf("escalated from %s review", res.Entry.QueueName)
		}
		esc, err := p.tracker.Create(context.WithoutCancel(ctx), escalation.CreateRequest{
			ContentID:   cur.ContentID,
			EscalatedBy: r.Reviewer,
			Reason:      reason,
			Type:        escalation.TypeReview,
			Priority:    res.Entry.Priority,
		})
		if err != nil {
			persistFailures.WithLabelValues("escalation").Inc()
			logger.Error("failed to open escalation for review", "err", err)
		} else {
			res.Escalation = esc
			p.publish(escalationEvent(esc, "created"))
		}
	}

	res.Notified = p.publish(&notify.Event{
		Type:      notify.EventReview,
		ContentID: cur.ContentID,
		Priority:  string(res.Entry.Priority),
		Queue:     res.Entry.QueueName,
		AuditHash: res.AuditHash,
		Data: map[string]any{
			"queue_entry_id": res.Entry.ID,
			"reviewer":       r.Reviewer,
			"decision":       r.Decision,
			"status":         res.Entry.Status,
		},
	})
	return res, nil
}

// CreateEscalation opens an escalation by hand and announces it.
func (p *Pipeline) CreateEscalation(ctx context.Context, req escalation.CreateRequest) (*escalation.Escalation, error) {
	esc, err := p.tracker.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	p.publish(escalationEvent(esc, "created"))
	return esc, nil
}

// UpdateEscalation applies an escalation update and announces it.
func (p *Pipeline) UpdateEscalation(ctx context.Context, id uint, req escalation.UpdateRequest) (*escalation.Escalation, error) {
	esc, err := p.tracker.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	p.publish(escalationEvent(esc, "updated"))
	return esc, nil
}

// SweepOverdue announces every open escalation which has outlived its response deadline, returning them.
func (p *Pipeline) SweepOverdue(ctx context.Context, now time.Time) ([]escalation.Escalation, error) {
	overdue, err := p.tracker.Overdue(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range overdue {
		esc := &overdue[i]
		p.logger.Warn("escalation overdue",
			"id", esc.ID,
			"content_id", esc.ContentID,
			"priority", esc.Priority,
			"status", esc.Status,
			"age", now.Sub(esc.CreatedAt).Round(time.Minute),
		)
		p.publish(escalationEvent(esc, "overdue"))
	}
	overdueEscalations.Set(float64(len(overdue)))
	return overdue, nil
}

// IsClientError reports whether err was caused by the request rather than by the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSubmission) ||
		errors.Is(err, queue.ErrInvalidReview) ||
		errors.Is(err, queue.ErrInvalidRequest) ||
		errors.Is(err, escalation.ErrInvalidRequest)
}
