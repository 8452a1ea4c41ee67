// Package cachestore caches complete signal sets, keyed by the digest of the normalized text.
//
// Keys carry a detector version, so changing keyword sets or remote classifiers makes old entries
// unreachable instead of serving stale signals. Entries are validated on the way out; anything that does
// not decode to a complete, well-formed set is purged and reported as a miss.
package cachestore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harmlens/harmlens/signals"

	"github.com/minio/sha256-simd"
)

// bumped when the cached encoding of a signal set changes
const formatVersion = "v1"

// backend stores opaque values with a fixed TTL. A miss is (nil, nil).
type backend interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, val []byte) error
	del(ctx context.Context, key string) error
}

// SignalCache implements signals.Cache over an in-process or redis backend.
type SignalCache struct {
	store   backend
	prefix  string
	version string
	logger  *slog.Logger
}

var _ signals.Cache = (*SignalCache)(nil)

// Version derives a short detector version from anything that changes detector output: keyword set
// fingerprints, remote classifier endpoints, and so on.
func Version(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:6])
}

func newSignalCache(b backend, prefix, version string, logger *slog.Logger) *SignalCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalCache{
		store:   b,
		prefix:  prefix,
		version: version,
		logger:  logger.With("component", "signal_cache"),
	}
}

func (c *SignalCache) key(digest string) string {
	return fmt.Sprintf("%ssignals/%s/%s/%s", c.prefix, formatVersion, c.version, digest)
}

func (c *SignalCache) Get(ctx context.Context, digest string) (signals.Set, bool, error) {
	k := c.key(digest)
	raw, err := c.store.get(ctx, k)
	if err != nil {
		lookups.WithLabelValues("error").Inc()
		return nil, false, err
	}
	if raw == nil {
		lookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	var set signals.Set
	if err := json.Unmarshal(raw, &set); err == nil {
		err = set.Validate()
	}
	if err != nil {
		lookups.WithLabelValues("corrupt").Inc()
		c.logger.Warn("discarding unusable cached signals", "digest", digest, "err", err)
		if err := c.store.del(ctx, k); err != nil {
			c.logger.Warn("failed to purge cached signals", "digest", digest, "err", err)
		}
		return nil, false, nil
	}
	lookups.WithLabelValues("hit").Inc()
	return set, true, nil
}

// Put stores a complete set. Incomplete or malformed sets are refused.
func (c *SignalCache) Put(ctx context.Context, digest string, set signals.Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return c.store.set(ctx, c.key(digest), b)
}

func (c *SignalCache) Purge(ctx context.Context, digest string) error {
	return c.store.del(ctx, c.key(digest))
}
