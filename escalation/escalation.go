package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harmlens/harmlens/ledger"
	"github.com/harmlens/harmlens/policy"
	"github.com/harmlens/harmlens/store"

	"gorm.io/gorm"
)

const (
	TypeChildSafety = "child_safety"
	TypeReview      = "review"
	TypeManual      = "manual"
)

var ErrInvalidRequest = errors.New("invalid escalation request")

type Escalation struct {
	ID           uint            `gorm:"primarykey" json:"id"`
	ContentID    string          `gorm:"not null;index" json:"content_id"`
	EscalatedBy  string          `gorm:"not null" json:"escalated_by"`
	Reason       string          `json:"reason"`
	Type         string          `gorm:"not null" json:"type"`
	Priority     policy.Priority `gorm:"not null" json:"priority"`
	PriorityRank int             `gorm:"not null;index" json:"-"`
	Status       Status          `gorm:"not null;index" json:"status"`
	AssignedTo   *string         `json:"assigned_to"`
	// set once from the priority at creation; later priority edits leave it alone
	ResponseTimeEstimate string     `gorm:"not null" json:"response_time_estimate"`
	// upper bound of that estimate; an open escalation is overdue after it
	RespondBy            time.Time  `gorm:"index" json:"respond_by"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	RespondedAt          *time.Time `json:"responded_at"`
	ResolvedAt           *time.Time `json:"resolved_at"`
	ResolutionNotes      *string    `json:"resolution_notes"`

	// audit block written by the most recent change made through the Tracker
	AuditSeq  *int64 `gorm:"-" json:"audit_seq,omitempty"`
	AuditHash string `gorm:"-" json:"audit_hash,omitempty"`
}

func (Escalation) TableName() string {
	return "escalations"
}

type CreateRequest struct {
	ContentID   string          `json:"content_id"`
	EscalatedBy string          `json:"escalated_by"`
	Reason      string          `json:"reason"`
	Type        string          `json:"type"`
	Priority    policy.Priority `json:"priority"`
	AssignedTo  string          `json:"assigned_to,omitempty"`
}

// UpdateRequest changes only the fields which are set.
type UpdateRequest struct {
	UpdatedBy       string           `json:"updated_by"`
	Status          *Status          `json:"status,omitempty"`
	AssignedTo      *string          `json:"assigned_to,omitempty"`
	ResolutionNotes *string          `json:"resolution_notes,omitempty"`
	Priority        *policy.Priority `json:"priority,omitempty"`
}

type Filter struct {
	Status      Status
	ContentID   string
	EscalatedBy string
	Limit       int
}

// Tracker owns the escalation workflow. Every create and update is sealed into the audit ledger in the
// same transaction as the row change.
type Tracker struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	logger *slog.Logger

	// permit forward jumps which skip intermediate states
	AllowSkip bool
}

func NewTracker(db *gorm.DB, l *ledger.Ledger, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Escalation{}); err != nil {
		return nil, err
	}
	return &Tracker{
		db:     db,
		ledger: l,
		logger: logger.With("component", "escalation"),
	}, nil
}

type auditRecord struct {
	Kind       string      `json:"kind"`
	Event      string      `json:"event"`
	Actor      string      `json:"actor"`
	Escalation *Escalation `json:"escalation"`
}

func (t *Tracker) Create(ctx context.Context, req CreateRequest) (*Escalation, error) {
	esc, _, err := t.create(ctx, req, false)
	return esc, err
}

// Ensure opens an escalation unless one of the same type is already open for the content, in which case
// that one is returned with created=false and nothing is written.
func (t *Tracker) Ensure(ctx context.Context, req CreateRequest) (*Escalation, bool, error) {
	return t.create(ctx, req, true)
}

func (t *Tracker) create(ctx context.Context, req CreateRequest, reuseOpen bool) (*Escalation, bool, error) {
	if strings.TrimSpace(req.ContentID) == "" || strings.TrimSpace(req.EscalatedBy) == "" || strings.TrimSpace(req.Reason) == "" {
		return nil, false, fmt.Errorf("%w: content_id, escalated_by and reason are required", ErrInvalidRequest)
	}
	if req.Priority == "" {
		req.Priority = policy.PriorityHigh
	}
	if !req.Priority.Valid() {
		return nil, false, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, req.Priority)
	}
	if req.Type == "" {
		req.Type = TypeManual
	}

	now := time.Now().UTC()
	esc := &Escalation{
		ContentID:            req.ContentID,
		EscalatedBy:          req.EscalatedBy,
		Reason:               req.Reason,
		Type:                 req.Type,
		Priority:             req.Priority,
		PriorityRank:         req.Priority.Rank(),
		Status:               StatusPending,
		ResponseTimeEstimate: ResponseTimeEstimate(req.Priority),
		RespondBy:            now.Add(ResponseDeadline(req.Priority)),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.AssignedTo != "" {
		esc.AssignedTo = &req.AssignedTo
	}

	var existing *Escalation
	blk, err := t.ledger.AppendWith(ctx, esc.ContentID, func(tx *gorm.DB) (any, error) {
		if reuseOpen {
			var open Escalation
			err := tx.Where("content_id = ? AND type = ? AND status IN ?", esc.ContentID, esc.Type, []Status{StatusPending, StatusInProgress}).
				Order("id asc").
				Take(&open).Error
			if err == nil {
				existing = &open
				return nil, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		}
		if err := tx.Create(esc).Error; err != nil {
			return nil, err
		}
		return auditRecord{Kind: "escalation", Event: "created", Actor: req.EscalatedBy, Escalation: esc}, nil
	})
	if err != nil {
		return nil, false, store.Classify("escalation create", err)
	}
	if existing != nil {
		t.logger.Debug("escalation already open", "id", existing.ID, "content_id", existing.ContentID, "type", existing.Type)
		return existing, false, nil
	}
	esc.AuditSeq = &blk.Seq
	esc.AuditHash = blk.Hash
	escalationsCreated.WithLabelValues(string(esc.Priority)).Inc()
	t.logger.Info("escalation created", "id", esc.ID, "content_id", esc.ContentID, "priority", esc.Priority, "type", esc.Type)
	return esc, true, nil
}

func (t *Tracker) Get(ctx context.Context, id uint) (*Escalation, error) {
	var esc Escalation
	if err := t.db.WithContext(ctx).Take(&esc, id).Error; err != nil {
		return nil, store.Classify("escalation get", err)
	}
	return &esc, nil
}

// Update applies a status transition and/or field edits. Disallowed transitions fail with store.ErrConflict
// and leave the row unchanged. Concurrent transitions of one escalation are resolved with a compare-and-swap
// on the status; the loser gets store.ErrConflict.
func (t *Tracker) Update(ctx context.Context, id uint, req UpdateRequest) (*Escalation, error) {
	if strings.TrimSpace(req.UpdatedBy) == "" {
		return nil, fmt.Errorf("%w: updated_by is required", ErrInvalidRequest)
	}
	if req.Priority != nil && !req.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, *req.Priority)
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, *req.Status)
	}

	cur, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *Escalation
	blk, err := t.ledger.AppendWith(ctx, cur.ContentID, func(tx *gorm.DB) (any, error) {
		var esc Escalation
		if err := tx.Take(&esc, id).Error; err != nil {
			return nil, err
		}
		prevStatus := esc.Status
		now := time.Now().UTC()

		if req.Status != nil {
			next := *req.Status
			if !CanTransition(esc.Status, next, t.AllowSkip) {
				return nil, fmt.Errorf("escalation %d: transition %s -> %s not allowed: %w", id, esc.Status, next, store.ErrConflict)
			}
			if next != esc.Status {
				switch next {
				case StatusResponded:
					esc.RespondedAt = &now
				case StatusResolved:
					esc.ResolvedAt = &now
				}
			}
			esc.Status = next
		}
		if req.AssignedTo != nil {
			esc.AssignedTo = req.AssignedTo
		}
		if req.ResolutionNotes != nil {
			esc.ResolutionNotes = req.ResolutionNotes
		}
		if req.Priority != nil {
			esc.Priority = *req.Priority
			esc.PriorityRank = req.Priority.Rank()
		}
		esc.UpdatedAt = now

		res := tx.Model(&Escalation{}).
			Where("id = ? AND status = ?", id, prevStatus).
			Updates(map[string]any{
				"status":           esc.Status,
				"assigned_to":      esc.AssignedTo,
				"resolution_notes": esc.ResolutionNotes,
				"priority":         esc.Priority,
				"priority_rank":    esc.PriorityRank,
				"responded_at":     esc.RespondedAt,
				"resolved_at":      esc.ResolvedAt,
				"updated_at":       esc.UpdatedAt,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected != 1 {
			return nil, fmt.Errorf("escalation %d changed concurrently: %w", id, store.ErrConflict)
		}
		out = &esc
		return auditRecord{Kind: "escalation", Event: "updated", Actor: req.UpdatedBy, Escalation: &esc}, nil
	})
	if err != nil {
		return nil, store.Classify("escalation update", err)
	}
	out.AuditSeq = &blk.Seq
	out.AuditHash = blk.Hash
	if req.Status != nil {
		escalationTransitions.WithLabelValues(string(out.Status)).Inc()
	}
	t.logger.Info("escalation updated", "id", id, "status", out.Status, "by", req.UpdatedBy)
	return out, nil
}

// List returns escalations ordered by priority rank, newest first within a priority.
func (t *Tracker) List(ctx context.Context, f Filter) ([]Escalation, error) {
	qry := t.db.WithContext(ctx).Model(&Escalation{})
	if f.Status != "" {
		qry = qry.Where("status = ?", f.Status)
	}
	if f.ContentID != "" {
		qry = qry.Where("content_id = ?", f.ContentID)
	}
	if f.EscalatedBy != "" {
		qry = qry.Where("escalated_by = ?", f.EscalatedBy)
	}
	if f.Limit > 0 {
		qry = qry.Limit(f.Limit)
	}
	var out []Escalation
	if err := qry.Order("priority_rank asc, created_at desc, id desc").Find(&out).Error; err != nil {
		return nil, store.Classify("escalation list", err)
	}
	return out, nil
}

// Overdue returns open escalations whose response deadline, fixed at creation, is before now.
func (t *Tracker) Overdue(ctx context.Context, now time.Time) ([]Escalation, error) {
	var out []Escalation
	err := t.db.WithContext(ctx).
		Where("status IN ? AND respond_by < ?", []Status{StatusPending, StatusInProgress}, now.UTC()).
		Order("priority_rank asc, respond_by asc").
		Find(&out).Error
	if err != nil {
		return nil, store.Classify("escalation overdue", err)
	}
	return out, nil
}

// CountByStatus returns the number of escalations in each status.
func (t *Tracker) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		N      int64
	}
	err := t.db.WithContext(ctx).Model(&Escalation{}).Select("status, count(*) as n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, store.Classify("escalation stats", err)
	}
	out := make(map[Status]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
