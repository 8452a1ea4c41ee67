package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/harmlens/harmlens/escalation"
	"github.com/harmlens/harmlens/ledger"
	"github.com/harmlens/harmlens/notify"
	"github.com/harmlens/harmlens/policy"
	"github.com/harmlens/harmlens/queue"
	"github.com/harmlens/harmlens/scoring"
	"github.com/harmlens/harmlens/signals"
	"github.com/harmlens/harmlens/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("harmlens/pipeline")

var ErrInvalidSubmission = errors.New("invalid submission")

// MaxTextLength bounds the size of a single submission, in bytes.
const MaxTextLength = 64 * 1024

// actor recorded on automatic escalations
const systemActor = "system"

// Publisher accepts notification events without blocking. *notify.Dispatcher implements it.
type Publisher interface {
	Publish(ev *notify.Event) bool
}

type Submission struct {
	ContentID string     `json:"content_id,omitempty"`
	Text      string     `json:"text"`
	UserID    string     `json:"user_id,omitempty"`
	Platform  string     `json:"platform,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Result is the outcome of analyzing one submission. The assessment and decision are always present; the
// boolean flags report which side effects completed.
type Result struct {
	ContentID string      `json:"content_id"`
	Signals   signals.Set `json:"signals"`
	scoring.Assessment
	policy.Decision

	QueueEntryID *uint  `json:"queue_entry_id,omitempty"`
	EscalationID *uint  `json:"escalation_id,omitempty"`
	AuditSeq     *int64 `json:"audit_seq,omitempty"`
	AuditHash    string `json:"audit_hash,omitempty"`

	Stored    bool `json:"stored"`
	Queued    bool `json:"queued"`
	Logged    bool `json:"logged"`
	Escalated bool `json:"escalated"`
	Notified  bool `json:"notified"`

	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

type Config struct {
	Aggregator *signals.Aggregator
	Scorer     *scoring.Scorer
	Content    *store.ContentStore
	Queue      *queue.Queue
	Ledger     *ledger.Ledger
	Tracker    *escalation.Tracker
	// optional
	Publisher Publisher
	Logger    *slog.Logger

	// maximum analyses run at once by Batch
	BatchConcurrency int
}

type Pipeline struct {
	aggregator *signals.Aggregator
	scorer     *scoring.Scorer
	policy     policy.Policy
	content    *store.ContentStore
	queue      *queue.Queue
	ledger     *ledger.Ledger
	tracker    *escalation.Tracker
	publisher  Publisher
	logger     *slog.Logger

	batchConcurrency int
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Aggregator == nil || cfg.Content == nil || cfg.Queue == nil || cfg.Ledger == nil || cfg.Tracker == nil {
		return nil, fmt.Errorf("pipeline: aggregator, content store, queue, ledger and tracker are required")
	}
	if cfg.Scorer == nil {
		s, err := scoring.NewScorer(scoring.DefaultConfig())
		if err != nil {
			return nil, err
		}
		cfg.Scorer = s
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	return &Pipeline{
		aggregator:       cfg.Aggregator,
		scorer:           cfg.Scorer,
		policy:           policy.New(cfg.Scorer.Config()),
		content:          cfg.Content,
		queue:            cfg.Queue,
		ledger:           cfg.Ledger,
		tracker:          cfg.Tracker,
		publisher:        cfg.Publisher,
		logger:           cfg.Logger.With("component", "pipeline"),
		batchConcurrency: cfg.BatchConcurrency,
	}, nil
}

var spaces = regexp.MustCompile(`\s+`)

func normalizeText(text string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(text, " "))
}

func (s *Submission) normalize() error {
	s.Text = normalizeText(s.Text)
	if s.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidSubmission)
	}
	if len(s.Text) > MaxTextLength {
		return fmt.Errorf("%w: text longer than %d bytes", ErrInvalidSubmission, MaxTextLength)
	}
	s.ContentID = strings.TrimSpace(s.ContentID)
	if s.ContentID == "" {
		s.ContentID = uuid.NewString()
	}
	return nil
}

// decisionRecord is the ledger payload for an analysis.
type decisionRecord struct {
	Kind            string                     `json:"kind"`
	ContentID       string                     `json:"content_id"`
	RiskScore       int                        `json:"risk_score"`
	RiskLabel       scoring.Label              `json:"risk_label"`
	Breakdown       map[signals.Family]float64 `json:"breakdown"`
	Overrides       []string                   `json:"overrides,omitempty"`
	Categories      []string                   `json:"categories,omitempty"`
	ChildEscalation bool                       `json:"child_escalation"`
	Action          string                     `json:"action"`
	Priority        policy.Priority            `json:"priority"`
	Queue           string                     `json:"queue"`
	QueueEntryID    *uint                      `json:"queue_entry_id,omitempty"`
}

// Analyze scores a submission, decides on an action and records the outcome.
//
// Everything up to the decision honors ctx. Once the decision exists, persistence and notification run
// to completion even if ctx is cancelled, and their failures are reported through the Result flags rather
// than as an error.
func (p *Pipeline) Analyze(ctx context.Context, sub Submission) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Analyze")
	defer span.End()

	if err := sub.normalize(); err != nil {
		analysesFailed.WithLabelValues("invalid").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("content_id", sub.ContentID))
	logger := p.logger.With("content_id", sub.ContentID)

	set, err := p.aggregator.Collect(ctx, sub.Text)
	if err != nil {
		analysesFailed.WithLabelValues("signals").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("collecting signals: %w", err)
	}
	assessment, err := p.scorer.Score(set)
	if err != nil {
		analysesFailed.WithLabelValues("scoring").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scoring: %w", err)
	}
	decision := p.policy.Decide(assessment)
	span.SetAttributes(
		attribute.Int("risk_score", assessment.Score),
		attribute.String("priority", string(decision.Priority)),
	)

	if err := ctx.Err(); err != nil {
		analysesFailed.WithLabelValues("cancelled").Inc()
		return nil, err
	}
	// past this point the decision has been made, and recording it must not be abandoned halfway
	ctx = context.WithoutCancel(ctx)

	res := &Result{
		ContentID:  sub.ContentID,
		Signals:    set,
		Assessment: assessment,
		Decision:   decision,
	}

	submitted := time.Now().UTC()
	if sub.Timestamp != nil {
		submitted = sub.Timestamp.UTC()
	}
	row := &store.ContentAnalysis{
		ContentID:        sub.ContentID,
		UserID:           sub.UserID,
		Platform:         sub.Platform,
		ContentText:      sub.Text,
		RiskScore:        assessment.Score,
		RiskLabel:        string(assessment.Label),
		Categories:       assessment.Categories,
		Overrides:        assessment.Overrides,
		Action:           decision.Action,
		Priority:         string(decision.Priority),
		Queue:            decision.Queue,
		ChildEscalation:  assessment.ChildEscalation,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		SubmittedAt:      submitted,
	}
	switch err := p.content.Create(ctx, row); {
	case err == nil:
		res.Stored = true
	case errors.Is(err, store.ErrConflict):
		logger.Info("content already analyzed, not storing again")
	default:
		persistFailures.WithLabelValues("content").Inc()
		logger.Error("failed to store analysis", "err", err)
	}

	p.record(ctx, logger, res)

	if decision.Priority == policy.PriorityCritical {
		p.autoEscalate(ctx, logger, res)
	}

	p.notifyAnalysis(res)

	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	analyses.WithLabelValues(string(assessment.Label)).Inc()
	analyzeDuration.Observe(time.Since(start).Seconds())
	logger.Info("content analyzed",
		"risk_score", assessment.Score,
		"risk_label", assessment.Label,
		"priority", decision.Priority,
		"stored", res.Stored,
		"queued", res.Queued,
		"logged", res.Logged,
		"escalated", res.Escalated,
		"notified", res.Notified,
	)
	return res, nil
}

// record enqueues the item for review (when its priority warrants it) and appends the decision block, in
// one transaction. If that transaction fails, the decision block is appended on its own so the audit
// trail does not lose the decision.
func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, res *Result) {
	queueable := res.Decision.Priority.Queueable()
	var entry *queue.Entry

	blk, err := p.ledger.AppendWith(ctx, res.ContentID, func(tx *gorm.DB) (any, error) {
		rec := p.decisionRecord(res)
		if queueable {
			e, _, err := p.queue.EnqueueTx(tx, res.ContentID, res.Decision)
			if err != nil {
				return nil, err
			}
			entry = e
			rec.QueueEntryID = &e.ID
		}
		return rec, nil
	})
	if err == nil {
		if entry != nil {
			res.Queued = true
			res.QueueEntryID = &entry.ID
		}
		res.Logged = true
		res.AuditSeq = &blk.Seq
		res.AuditHash = blk.Hash
		return
	}

	persistFailures.WithLabelValues("record").Inc()
	logger.Error("failed to record decision", "err", err, "queueable", queueable)
	if !queueable {
		return
	}

	blk, err = p.ledger.Append(ctx, res.ContentID, p.decisionRecord(res))
	if err != nil {
		persistFailures.WithLabelValues("ledger").Inc()
		logger.Error("failed to append decision block", "err", err)
		return
	}
	res.Logged = true
	res.AuditSeq = &blk.Seq
	res.AuditHash = blk.Hash
}

func (p *Pipeline) decisionRecord(res *Result) decisionRecord {
	return decisionRecord{
		Kind:            "decision",
		ContentID:       res.ContentID,
		RiskScore:       res.Assessment.Score,
		RiskLabel:       res.Assessment.Label,
		Breakdown:       res.Assessment.Breakdown,
		Overrides:       res.Assessment.Overrides,
		Categories:      res.Assessment.Categories,
		ChildEscalation: res.Assessment.ChildEscalation,
		Action:          res.Decision.Action,
		Priority:        res.Decision.Priority,
		Queue:           res.Decision.Queue,
	}
}

// autoEscalate opens a system escalation, or reuses the one already open for this content and type.
func (p *Pipeline) autoEscalate(ctx context.Context, logger *slog.Logger, res *Result) {
	typ := escalation.TypeReview
	if res.Assessment.ChildEscalation {
		typ = escalation.TypeChildSafety
	}
	esc, created, err := p.tracker.Ensure(ctx, escalation.CreateRequest{
		ContentID:   res.ContentID,
		EscalatedBy: systemActor,
		Reason:      res.Decision.Rationale,
		Type:        typ,
		Priority:    res.Decision.Priority,
	})
	if err != nil {
		persistFailures.WithLabelValues("escalation").Inc()
		logger.Error("failed to open escalation", "err", err)
		return
	}
	res.Escalated = true
	res.EscalationID = &esc.ID
	if !created {
		logger.Info("escalation already open for content", "escalation_id", esc.ID)
		return
	}
	p.publish(escalationEvent(esc, "created"))
}

func (p *Pipeline) notifyAnalysis(res *Result) {
	var events []*notify.Event
	base := func(t notify.EventType) *notify.Event {
		score := res.Assessment.Score
		return &notify.Event{
			Type:      t,
			ContentID: res.ContentID,
			Priority:  string(res.Decision.Priority),
			RiskScore: &score,
			Action:    res.Decision.Action,
			Queue:     res.Decision.Queue,
			AuditHash: res.AuditHash,
			Data: map[string]any{
				"risk_label": res.Assessment.Label,
				"categories": res.Assessment.Categories,
				"overrides":  res.Assessment.Overrides,
			},
		}
	}
	if res.Assessment.ChildEscalation {
		events = append(events, base(notify.EventChildSafety))
	}
	if res.Decision.Priority == policy.PriorityHigh || res.Decision.Priority == policy.PriorityCritical {
		events = append(events, base(notify.EventHighRisk))
	}
	if len(events) == 0 {
		return
	}
	ok := true
	for _, ev := range events {
		ok = p.publish(ev) && ok
	}
	res.Notified = ok
}

func (p *Pipeline) publish(ev *notify.Event) bool {
	if p.publisher == nil {
		return false
	}
	return p.publisher.Publish(ev)
}

func escalationEvent(esc *escalation.Escalation, event string) *notify.Event {
	return &notify.Event{
		Type:      notify.EventEscalation,
		ContentID: esc.ContentID,
		Priority:  string(esc.Priority),
		AuditHash: esc.AuditHash,
		Data: map[string]any{
			"event":                  event,
			"escalation_id":          esc.ID,
			"status":                 esc.Status,
			"type":                   esc.Type,
			"response_time_estimate": esc.ResponseTimeEstimate,
		},
	}
}
