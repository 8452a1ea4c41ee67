package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Sink delivers events to one external subscriber.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev *Event) error
	Close(ctx context.Context) error
}

// Route sends events of the listed types to a sink. An empty type list matches every event.
type Route struct {
	Sink  Sink
	Types []EventType
}

func (r Route) matches(t EventType) bool {
	if len(r.Types) == 0 {
		return true
	}
	for _, rt := range r.Types {
		if rt == t {
			return true
		}
	}
	return false
}

type Config struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Dispatcher fans events out to sinks from a bounded queue. Publishing never blocks; when the queue is
// full the event is dropped and counted. Delivery failures are logged and counted, never retried.
type Dispatcher struct {
	queue           chan *Event
	routes          []Route
	deliveryTimeout time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	enqueued    *xsync.Counter
	dropped     *xsync.Counter
	sinkSuccess *xsync.MapOf[string, *xsync.Counter]
	sinkFailure *xsync.MapOf[string, *xsync.Counter]

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(cfg Config, routes ...Route) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dispatcher{
		queue:           make(chan *Event, cfg.QueueSize),
		routes:          routes,
		deliveryTimeout: cfg.DeliveryTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          cfg.Logger.With("component", "notify"),
		enqueued:        xsync.NewCounter(),
		dropped:         xsync.NewCounter(),
		sinkSuccess:     xsync.NewMapOf[string, *xsync.Counter](),
		sinkFailure:     xsync.NewMapOf[string, *xsync.Counter](),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Publish enqueues ev without blocking. It reports whether the event was accepted.
func (d *Dispatcher) Publish(ev *Event) bool {
	if d == nil || ev == nil {
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ev)
		return false
	}
	select {
	case d.queue <- ev:
		d.enqueued.Inc()
		eventsPublished.WithLabelValues(string(ev.Type)).Inc()
		return true
	default:
		d.drop(ev)
		return false
	}
}

func (d *Dispatcher) drop(ev *Event) {
	d.dropped.Inc()
	eventsDropped.Inc()
	d.logger.Warn("dropping notification", "event", ev.Type, "content_id", ev.ContentID)
}

// Close stops accepting events and waits up to the shutdown timeout for queued events to be delivered.
func (d *Dispatcher) Close(ctx context.Context) {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, d.shutdownTimeout)
	defer cancel()
	select {
	case <-done:
	case <-waitCtx.Done():
		d.logger.Warn("notification queue not drained before shutdown", "remaining", len(d.queue))
	}

	for _, r := range d.routes {
		if err := r.Sink.Close(waitCtx); err != nil {
			d.logger.Error("failed to close notification sink", "sink", r.Sink.Name(), "err", err)
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev *Event) {
	for _, r := range d.routes {
		if !r.matches(ev.Type) {
			continue
		}
		name := r.Sink.Name()
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), d.deliveryTimeout)
		err := r.Sink.Deliver(ctx, ev)
		cancel()
		deliveryDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			d.counter(d.sinkFailure, name).Inc()
			deliveries.WithLabelValues(sinkKind(r.Sink), "failure").Inc()
			d.logger.Warn("notification delivery failed", "sink", name, "event", ev.Type, "content_id", ev.ContentID, "err", err)
			continue
		}
		d.counter(d.sinkSuccess, name).Inc()
		deliveries.WithLabelValues(sinkKind(r.Sink), "success").Inc()
		d.logger.Debug("notification delivered", "sink", name, "event", ev.Type, "content_id", ev.ContentID)
	}
}

func (d *Dispatcher) counter(m *xsync.MapOf[string, *xsync.Counter], name string) *xsync.Counter {
	c, _ := m.LoadOrCompute(name, func() *xsync.Counter {
		return xsync.NewCounter()
	})
	return c
}

// Stats is a point-in-time copy of the dispatcher counters.
type Stats struct {
	Enqueued    int64            `json:"enqueued"`
	Dropped     int64            `json:"dropped"`
	SinkSuccess map[string]int64 `json:"sink_success"`
	SinkFailure map[string]int64 `json:"sink_failure"`
}

func (d *Dispatcher) Stats() Stats {
	st := Stats{
		Enqueued:    d.enqueued.Value(),
		Dropped:     d.dropped.Value(),
		SinkSuccess: map[string]int64{},
		SinkFailure: map[string]int64{},
	}
	d.sinkSuccess.Range(func(k string, v *xsync.Counter) bool {
		st.SinkSuccess[k] = v.Value()
		return true
	})
	d.sinkFailure.Range(func(k string, v *xsync.Counter) bool {
		st.SinkFailure[k] = v.Value()
		return true
	})
	return st
}

func sinkKind(s Sink) string {
	switch s.(type) {
	case *WebhookSink:
		return "webhook"
	case *SlackSink:
		return "slack"
	}
	return "other"
}
