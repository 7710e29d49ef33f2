// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package cache provides the soft-state cache used for sticky assignments
// and policy-state read-through. The database remains authoritative; every
// entry here is reconstructible and bounded by TTL.
package cache

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Cacher is the backend-neutral cache interface. The memory backend stores
// values as-is; the redis backend stores JSON and returns json.RawMessage.
// Use Decode to read a cached value regardless of backend.
type Cacher interface {
	// Get retrieves a value. Returns false on miss or expiry.
	Get(key string) (interface{}, bool)

	// Set stores a value with the default TTL.
	Set(key string, value interface{})

	// SetWithTTL stores a value with a custom TTL.
	SetWithTTL(key string, value interface{}, ttl time.Duration)

	// Delete removes a single entry.
	Delete(key string)

	// Clear removes all entries.
	Clear()

	// GetStats returns a snapshot of hit/miss/eviction counters.
	GetStats() Stats

	// HitRate returns the hit rate as a percentage.
	HitRate() float64
}

// Config selects and parameterizes a cache backend.
type Config struct {
	// Backend is "memory" or "redis".
	Backend string

	// TTL is the default entry lifetime.
	TTL time.Duration

	// Redis connection settings, used only by the redis backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KeyPrefix namespaces redis keys so multiple deployments can share
	// a server. Ignored by the memory backend.
	KeyPrefix string
}

// NewCacher builds a cache from config. An unrecognized backend falls back
// to memory rather than failing: the cache is soft state and the service
// must come up without it.
func NewCacher(cfg Config) (Cacher, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	switch cfg.Backend {
	case "redis":
		return newRedisCache(cfg)
	default:
		return NewMemory(cfg.TTL), nil
	}
}

// Decode reads a cached value into out. Redis entries arrive as
// json.RawMessage and are unmarshaled; memory entries are stored typed and
// round-trip through JSON, which also gives callers an isolated copy.
func Decode(v interface{}, out interface{}) error {
	switch raw := v.(type) {
	case json.RawMessage:
		return json.Unmarshal(raw, out)
	case []byte:
		return json.Unmarshal(raw, out)
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("encoding cached value: %w", err)
		}
		return json.Unmarshal(data, out)
	}
}
