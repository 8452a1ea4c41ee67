package signals

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticDetector struct {
	family Family
	signal Signal
	err    error
	calls  atomic.Int64
}

func (d *staticDetector) Family() Family {
	return d.family
}

func (d *staticDetector) Detect(ctx context.Context, text string) (Signal, error) {
	d.calls.Add(1)
	return d.signal, d.err
}

func staticDetectors(score float64) []*staticDetector {
	out := []*staticDetector{}
	for _, f := range Families {
		out = append(out, &staticDetector{family: f, signal: Signal{Score: score, Evidence: []string{string(f)}}})
	}
	return out
}

func asDetectors(in []*staticDetector) []Detector {
	out := make([]Detector, len(in))
	for i := range in {
		out[i] = in[i]
	}
	return out
}

func TestNewAggregatorRequiresAllFamilies(t *testing.T) {
	assert := assert.New(t)

	dets := staticDetectors(0.1)
	_, err := NewAggregator(nil, asDetectors(dets[:4])...)
	assert.Error(err)

	_, err = NewAggregator(nil, append(asDetectors(dets), dets[0])...)
	assert.Error(err)

	_, err = NewAggregator(nil, asDetectors(dets)...)
	assert.NoError(err)
}

func TestAggregatorCollect(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	agg, err := NewAggregator(nil, asDetectors(staticDetectors(0.3))...)
	require.NoError(err)

	set, err := agg.Collect(ctx, "hello world")
	require.NoError(err)
	assert.Len(set, len(Families))
	for _, f := range Families {
		assert.Equal(0.3, set.Score(f))
		assert.Equal([]string{string(f)}, set[f].Evidence)
	}
}

func TestAggregatorRejectsMalformed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	dets := staticDetectors(0.3)
	dets[1].signal = Signal{Score: math.NaN()}
	agg, err := NewAggregator(nil, asDetectors(dets)...)
	assert.NoError(err)

	_, err = agg.Collect(ctx, "text")
	assert.True(errors.Is(err, ErrInvalidSignal))
}

func TestAggregatorDetectorFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	dets := staticDetectors(0.3)
	dets[2].err = errors.New("classifier unavailable")
	agg, err := NewAggregator(nil, asDetectors(dets)...)
	assert.NoError(err)

	_, err = agg.Collect(ctx, "text")
	assert.ErrorContains(err, "classifier unavailable")
}

type mapCache struct {
	sets   map[string]Set
	getErr error
}

func (c *mapCache) Get(ctx context.Context, digest string) (Set, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	set, ok := c.sets[digest]
	return set, ok, nil
}

func (c *mapCache) Put(ctx context.Context, digest string, set Set) error {
	c.sets[digest] = set
	return nil
}

func TestAggregatorCache(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	dets := staticDetectors(0.4)
	agg, err := NewAggregator(nil, asDetectors(dets)...)
	require.NoError(err)
	cache := &mapCache{sets: map[string]Set{}}
	agg.Cache = cache

	first, err := agg.Collect(ctx, "same text")
	require.NoError(err)
	assert.Contains(cache.sets, TextDigest("same text"))
	second, err := agg.Collect(ctx, "same text")
	require.NoError(err)
	assert.Equal(first, second)
	for _, d := range dets {
		assert.Equal(int64(1), d.calls.Load())
	}

	_, err = agg.Collect(ctx, "different text")
	require.NoError(err)
	for _, d := range dets {
		assert.Equal(int64(2), d.calls.Load())
	}
}

func TestAggregatorCacheErrorFallsThrough(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	dets := staticDetectors(0.4)
	agg, err := NewAggregator(nil, asDetectors(dets)...)
	assert.NoError(err)
	agg.Cache = &mapCache{sets: map[string]Set{}, getErr: errors.New("connection refused")}

	set, err := agg.Collect(ctx, "t")
	assert.NoError(err)
	assert.Equal(0.4, set.Score(Toxicity))
	assert.Equal(int64(1), dets[0].calls.Load())
}
