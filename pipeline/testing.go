package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/harmlens/harmlens/escalation"
	"github.com/harmlens/harmlens/ledger"
	"github.com/harmlens/harmlens/notify"
	"github.com/harmlens/harmlens/queue"
	"github.com/harmlens/harmlens/signals"
	"github.com/harmlens/harmlens/store"
)

// RecordingPublisher keeps every published event. When Reject is set, events are refused.
type RecordingPublisher struct {
	Reject bool

	mu     sync.Mutex
	events []*notify.Event
}

func (r *RecordingPublisher) Publish(ev *notify.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Reject {
		return false
	}
	r.events = append(r.events, ev)
	return true
}

func (r *RecordingPublisher) Events(t notify.EventType) []*notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*notify.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Fixture is a Pipeline over a temporary SQLite database, with detectors that return canned signals for
// registered texts (and all-zero signals otherwise).
type Fixture struct {
	Pipeline  *Pipeline
	Content   *store.ContentStore
	Queue     *queue.Queue
	Ledger    *ledger.Ledger
	Tracker   *escalation.Tracker
	Publisher *RecordingPublisher

	mu     sync.RWMutex
	canned map[string]signals.Set
}

func NewFixture(t testing.TB) *Fixture {
	t.Helper()
	db := store.TestingDB(t)

	fx := &Fixture{
		Publisher: &RecordingPublisher{},
		canned:    map[string]signals.Set{},
	}
	var err error
	if fx.Content, err = store.NewContentStore(db); err != nil {
		t.Fatal(err)
	}
	if fx.Queue, err = queue.New(db, nil); err != nil {
		t.Fatal(err)
	}
	if fx.Ledger, err = ledger.New(db, nil); err != nil {
		t.Fatal(err)
	}
	if fx.Tracker, err = escalation.NewTracker(db, fx.Ledger, nil); err != nil {
		t.Fatal(err)
	}

	dets := make([]signals.Detector, 0, len(signals.Families))
	for _, f := range signals.Families {
		dets = append(dets, cannedDetector{family: f, fx: fx})
	}
	agg, err := signals.NewAggregator(nil, dets...)
	if err != nil {
		t.Fatal(err)
	}

	fx.Pipeline, err = New(Config{
		Aggregator: agg,
		Content:    fx.Content,
		Queue:      fx.Queue,
		Ledger:     fx.Ledger,
		Tracker:    fx.Tracker,
		Publisher:  fx.Publisher,
	})
	if err != nil {
		t.Fatal(err)
	}
	return fx
}

// SetSignals registers the signals detectors report for text.
func (fx *Fixture) SetSignals(text string, set signals.Set) {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	fx.canned[normalizeText(text)] = set
}

type cannedDetector struct {
	family signals.Family
	fx     *Fixture
}

func (d cannedDetector) Family() signals.Family { return d.family }

func (d cannedDetector) Detect(ctx context.Context, text string) (signals.Signal, error) {
	d.fx.mu.RLock()
	defer d.fx.mu.RUnlock()
	return d.fx.canned[text][d.family], nil
}
