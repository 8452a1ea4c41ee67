package cachestore

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memBackend struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemSignalCache keeps up to capacity sets in process memory, each for at most ttl.
func NewMemSignalCache(capacity int, ttl time.Duration, version string, logger *slog.Logger) *SignalCache {
	return newSignalCache(memBackend{lru: expirable.NewLRU[string, []byte](capacity, nil, ttl)}, "", version, logger)
}

func (m memBackend) get(_ context.Context, key string) ([]byte, error) {
	v, _ := m.lru.Get(key)
	return v, nil
}

func (m memBackend) set(_ context.Context, key string, val []byte) error {
	m.lru.Add(key, val)
	return nil
}

func (m memBackend) del(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}
