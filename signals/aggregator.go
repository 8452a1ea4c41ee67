package signals

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/sha256-simd"
	"golang.org/x/sync/errgroup"
)

// Detector produces a Signal for a single family. Implementations must be safe for concurrent use.
type Detector interface {
	Family() Family
	Detect(ctx context.Context, text string) (Signal, error)
}

// Cache stores complete signal sets by text digest. Get only reports a hit for a set which passes Validate.
type Cache interface {
	Get(ctx context.Context, digest string) (Set, bool, error)
	Put(ctx context.Context, digest string, set Set) error
}

// Aggregator runs one detector per family and collects the results into a Set.
type Aggregator struct {
	detectors map[Family]Detector
	logger    *slog.Logger

	// optional
	Cache Cache
}

func NewAggregator(logger *slog.Logger, detectors ...Detector) (*Aggregator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[Family]Detector, len(Families))
	for _, d := range detectors {
		f := d.Family()
		if !f.Valid() {
			return nil, fmt.Errorf("detector for unknown family: %s", f)
		}
		if _, ok := m[f]; ok {
			return nil, fmt.Errorf("duplicate detector for family: %s", f)
		}
		m[f] = d
	}
	for _, f := range Families {
		if _, ok := m[f]; !ok {
			return nil, fmt.Errorf("missing detector for family: %s", f)
		}
	}
	return &Aggregator{
		detectors: m,
		logger:    logger.With("component", "aggregator"),
	}, nil
}

// TextDigest returns the hex SHA-256 of the text; used as the cache key.
func TextDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Collect runs all detectors concurrently. A detector failure fails the whole collection; the result is
// validated before it is returned.
func (a *Aggregator) Collect(ctx context.Context, text string) (Set, error) {
	start := time.Now()
	key := TextDigest(text)

	if a.Cache != nil {
		set, ok, err := a.Cache.Get(ctx, key)
		if err != nil {
			a.logger.Warn("signal cache read failed", "err", err)
		} else if ok {
			return set, nil
		}
	}

	results := make([]Signal, len(Families))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range Families {
		d := a.detectors[f]
		g.Go(func() error {
			sig, err := d.Detect(gctx, text)
			if err != nil {
				detectorErrors.WithLabelValues(string(f)).Inc()
				return fmt.Errorf("detector %s: %w", f, err)
			}
			results[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := make(Set, len(Families))
	for i, f := range Families {
		set[f] = results[i]
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	collectDuration.Observe(time.Since(start).Seconds())

	if a.Cache != nil {
		if err := a.Cache.Put(ctx, key, set); err != nil {
			a.logger.Warn("signal cache write failed", "err", err)
		}
	}
	return set, nil
}
