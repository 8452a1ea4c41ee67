package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name string
	fail bool
	// blocks delivery until closed, when set
	gate chan struct{}

	mu     sync.Mutex
	events []*Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, ev *Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if s.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

func (s *recordingSink) Close(context.Context) error { return nil }

func (s *recordingSink) received() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestDispatcherRoutesByType(t *testing.T) {
	assert := assert.New(t)

	child := &recordingSink{name: "child"}
	all := &recordingSink{name: "all"}
	d := NewDispatcher(Config{Workers: 1},
		Route{Sink: child, Types: []EventType{EventChildSafety}},
		Route{Sink: all},
	)

	assert.True(d.Publish(&Event{Type: EventChildSafety, ContentID: "c1"}))
	assert.True(d.Publish(&Event{Type: EventReview, ContentID: "c2"}))
	d.Close(context.Background())

	assert.Len(child.received(), 1)
	assert.Equal("c1", child.received()[0].ContentID)
	assert.Len(all.received(), 2)

	st := d.Stats()
	assert.Equal(int64(2), st.Enqueued)
	assert.Equal(int64(0), st.Dropped)
	assert.Equal(int64(1), st.SinkSuccess["child"])
	assert.Equal(int64(2), st.SinkSuccess["all"])
}

func TestDispatcherFailureIsolated(t *testing.T) {
	assert := assert.New(t)

	bad := &recordingSink{name: "bad", fail: true}
	good := &recordingSink{name: "good"}
	d := NewDispatcher(Config{Workers: 1}, Route{Sink: bad}, Route{Sink: good})

	assert.True(d.Publish(&Event{Type: EventHighRisk, ContentID: "c1"}))
	d.Close(context.Background())

	assert.Len(good.received(), 1)
	st := d.Stats()
	assert.Equal(int64(1), st.SinkFailure["bad"])
	assert.Equal(int64(1), st.SinkSuccess["good"])
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	assert := assert.New(t)

	gate := make(chan struct{})
	slow := &recordingSink{name: "slow", gate: gate}
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1}, Route{Sink: slow})

	accepted := 0
	for range 10 {
		if d.Publish(&Event{Type: EventHighRisk, ContentID: "c"}) {
			accepted++
		}
	}
	// at most one event in flight plus one queued
	assert.LessOrEqual(accepted, 2)
	assert.GreaterOrEqual(accepted, 1)

	close(gate)
	d.Close(context.Background())

	st := d.Stats()
	assert.Equal(int64(10), st.Enqueued+st.Dropped)
	assert.Len(slow.received(), accepted)
}

func TestDispatcherClosed(t *testing.T) {
	assert := assert.New(t)

	d := NewDispatcher(Config{})
	d.Close(context.Background())
	d.Close(context.Background())
	assert.False(d.Publish(&Event{Type: EventReview}))
	assert.Equal(int64(1), d.Stats().Dropped)

	var nilDispatcher *Dispatcher
	assert.False(nilDispatcher.Publish(&Event{Type: EventReview}))
}

func TestWebhookSink(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var got Event
	var contentType, token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		token = r.Header.Get("X-Token")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(srv.URL, map[string]string{"X-Token": "secret"}, time.Second)
	require.NoError(err)

	score := 88
	err = sink.Deliver(context.Background(), &Event{
		Type:      EventHighRisk,
		ContentID: "c1",
		Priority:  "HIGH",
		RiskScore: &score,
	})
	require.NoError(err)
	assert.Equal("application/json", contentType)
	assert.Equal("secret", token)
	assert.Equal(EventHighRisk, got.Type)
	assert.Equal("c1", got.ContentID)
	require.NotNil(got.RiskScore)
	assert.Equal(88, *got.RiskScore)
}

func TestWebhookSinkErrorStatus(t *testing.T) {
	assert := assert.New(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(srv.URL, nil, time.Second)
	assert.NoError(err)
	err = sink.Deliver(context.Background(), &Event{Type: EventReview, ContentID: "c1"})
	assert.ErrorContains(err, "status 500")
	assert.ErrorContains(err, "boom")
	// no retries
	assert.Equal(1, calls)

	_, err = NewWebhookSink("", nil, 0)
	assert.Error(err)
}

func TestSlackSink(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sink, err := NewSlackSink(srv.URL)
	require.NoError(err)
	score := 95
	err = sink.Deliver(context.Background(), &Event{
		Type:      EventChildSafety,
		ContentID: "c9",
		Priority:  "CRITICAL",
		RiskScore: &score,
	})
	require.NoError(err)
	text, _ := body["text"].(string)
	assert.Contains(text, "Child Safety")
	assert.Contains(text, "c9")
	assert.Contains(text, "CRITICAL")
	assert.Contains(text, "95")
}

func TestTruncateBody(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("short", truncateBody([]byte("short")))
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	out := truncateBody(long)
	assert.Len(out, 203)
}
