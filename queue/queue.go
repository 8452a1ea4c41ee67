package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harmlens/harmlens/policy"
	"github.com/harmlens/harmlens/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusReviewed  Status = "reviewed"
	StatusEscalated Status = "escalated"
)

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case "", StatusPending, StatusReviewed, StatusEscalated:
		return s, nil
	}
	return "", fmt.Errorf("unknown queue status: %q", raw)
}

type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionRemove   Decision = "remove"
	DecisionWarn     Decision = "warn"
	DecisionEscalate Decision = "escalate"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionRemove, DecisionWarn, DecisionEscalate:
		return true
	}
	return false
}

var (
	ErrNotQueueable   = errors.New("decision priority does not get a queue entry")
	ErrInvalidReview  = errors.New("invalid review")
	ErrInvalidRequest = errors.New("invalid queue request")
)

// Entry is one item awaiting (or done with) human review. Only Review mutates it, and only once.
type Entry struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	ContentID string          `gorm:"not null;uniqueIndex:idx_moderation_queue_content" json:"content_id"`
	QueueName string          `gorm:"not null;uniqueIndex:idx_moderation_queue_content;index:idx_moderation_queue_order,priority:1" json:"queue_name"`
	Priority  policy.Priority `gorm:"not null" json:"priority"`
	// denormalized Priority.Rank(), so ordering is a single indexed SELECT
	PriorityRank     int        `gorm:"not null;index:idx_moderation_queue_order,priority:3" json:"-"`
	Status           Status     `gorm:"not null;index:idx_moderation_queue_order,priority:2" json:"status"`
	Action           string     `json:"action"`
	AssignedReviewer *string    `json:"assigned_reviewer"`
	Decision         *Decision  `json:"decision"`
	Notes            *string    `json:"notes"`
	CreatedAt        time.Time  `json:"created_at"`
	ReviewedAt       *time.Time `json:"reviewed_at"`
}

func (Entry) TableName() string {
	return "moderation_queue"
}

type Review struct {
	Reviewer string   `json:"reviewer"`
	Decision Decision `json:"decision"`
	Notes    string   `json:"notes,omitempty"`
}

func (r Review) Validate() error {
	if strings.TrimSpace(r.Reviewer) == "" {
		return fmt.Errorf("%w: reviewer is required", ErrInvalidReview)
	}
	if !r.Decision.Valid() {
		return fmt.Errorf("%w: unknown decision %q", ErrInvalidReview, r.Decision)
	}
	return nil
}

type Queue struct {
	db     *gorm.DB
	logger *slog.Logger
}

func New(db *gorm.DB, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Queue{
		db:     db,
		logger: logger.With("component", "queue"),
	}, nil
}

// Enqueue records a decision for review. It is idempotent per (content id, queue): an existing entry is
// returned unchanged.
func (q *Queue) Enqueue(ctx context.Context, contentID string, d policy.Decision) (*Entry, error) {
	e, _, err := q.EnqueueTx(q.db.WithContext(ctx), contentID, d)
	return e, err
}

// EnqueueTx is Enqueue against a caller-owned transaction. The bool reports whether a new row was created.
func (q *Queue) EnqueueTx(tx *gorm.DB, contentID string, d policy.Decision) (*Entry, bool, error) {
	if contentID == "" || d.Queue == "" {
		return nil, false, fmt.Errorf("%w: content id and queue name are required", ErrInvalidRequest)
	}
	if !d.Priority.Queueable() {
		return nil, false, fmt.Errorf("%w: %s", ErrNotQueueable, d.Priority)
	}

	e := &Entry{
		ContentID:    contentID,
		QueueName:    d.Queue,
		Priority:     d.Priority,
		PriorityRank: d.Priority.Rank(),
		Status:       StatusPending,
		Action:       d.Action,
	}
	// conflict is not an error here, and must not abort an enclosing postgres transaction
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return nil, false, store.Classify("queue enqueue", res.Error)
	}
	if res.RowsAffected == 1 {
		entriesCreated.WithLabelValues(string(d.Priority)).Inc()
		return e, true, nil
	}

	var existing Entry
	if err := tx.Where("content_id = ? AND queue_name = ?", contentID, d.Queue).Take(&existing).Error; err != nil {
		return nil, false, store.Classify("queue enqueue", err)
	}
	q.logger.Info("duplicate enqueue, returning existing entry", "content_id", contentID, "queue", d.Queue, "id", existing.ID)
	return &existing, false, nil
}

func (q *Queue) Get(ctx context.Context, id uint) (*Entry, error) {
	var e Entry
	if err := q.db.WithContext(ctx).Take(&e, id).Error; err != nil {
		return nil, store.Classify("queue get", err)
	}
	return &e, nil
}

// ListOrdered returns entries sorted by priority rank, then creation time, then id. Empty queueName or
// status match everything. A limit of zero or less means no limit.
func (q *Queue) ListOrdered(ctx context.Context, queueName string, status Status, limit int) ([]Entry, error) {
	qry := q.db.WithContext(ctx).Model(&Entry{})
	if queueName != "" {
		qry = qry.Where("queue_name = ?", queueName)
	}
	if status != "" {
		qry = qry.Where("status = ?", status)
	}
	if limit > 0 {
		qry = qry.Limit(limit)
	}
	var out []Entry
	if err := qry.Order("priority_rank asc, created_at asc, id asc").Find(&out).Error; err != nil {
		return nil, store.Classify("queue list", err)
	}
	return out, nil
}

func (q *Queue) Review(ctx context.Context, id uint, r Review) (*Entry, error) {
	e, _, err := q.ReviewTx(q.db.WithContext(ctx), id, r)
	return e, err
}

// ReviewTx moves a pending entry to reviewed (or escalated, for an escalate decision) with a
// compare-and-swap on status. Repeating the same reviewer and decision is a no-op; any other review of a
// terminal entry fails with store.ErrConflict. The bool reports whether this call made the transition.
func (q *Queue) ReviewTx(tx *gorm.DB, id uint, r Review) (*Entry, bool, error) {
	if err := r.Validate(); err != nil {
		return nil, false, err
	}

	next := StatusReviewed
	if r.Decision == DecisionEscalate {
		next = StatusEscalated
	}
	now := time.Now().UTC()
	updates := map[string]any{
		"status":            next,
		"assigned_reviewer": r.Reviewer,
		"decision":          r.Decision,
		"reviewed_at":       now,
	}
	if r.Notes != "" {
		updates["notes"] = r.Notes
	}

	res := tx.Model(&Entry{}).Where("id = ? AND status = ?", id, StatusPending).Updates(updates)
	if res.Error != nil {
		return nil, false, store.Classify("queue review", res.Error)
	}

	var e Entry
	if err := tx.Take(&e, id).Error; err != nil {
		return nil, false, store.Classify("queue review", err)
	}
	if res.RowsAffected == 1 {
		reviewsRecorded.WithLabelValues(string(r.Decision)).Inc()
		return &e, true, nil
	}

	if e.AssignedReviewer != nil && *e.AssignedReviewer == r.Reviewer && e.Decision != nil && *e.Decision == r.Decision {
		return &e, false, nil
	}
	reviewConflicts.Inc()
	return nil, false, fmt.Errorf("queue entry %d already %s: %w", id, e.Status, store.ErrConflict)
}

// PendingCounts returns the number of pending entries per queue.
func (q *Queue) PendingCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		QueueName string
		N         int64
	}
	err := q.db.WithContext(ctx).Model(&Entry{}).
		Select("queue_name, count(*) as n").
		Where("status = ?", StatusPending).
		Group("queue_name").
		Scan(&rows).Error
	if err != nil {
		return nil, store.Classify("queue stats", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.QueueName] = r.N
	}
	return out, nil
}
