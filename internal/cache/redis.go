// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/banditlabs/banditd/internal/logging"
)

// redisOpTimeout bounds every cache round trip. The cache sits on the arm
// selection path, so a slow Redis must degrade to a miss, not a stall.
const redisOpTimeout = 50 * time.Millisecond

// Redis is a Cacher backed by a Redis server. Values are stored as JSON;
// Get returns json.RawMessage. Errors are treated as misses and logged at
// debug so a Redis outage never takes selection down with it.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	stats  Stats
}

func newRedisCache(cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  redisOpTimeout,
		WriteTimeout: redisOpTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "banditd"
	}
	return &Redis{client: client, ttl: cfg.TTL, prefix: prefix}, nil
}

func (c *Redis) key(k string) string {
	return c.prefix + ":" + k
}

// Get retrieves a value as json.RawMessage.
func (c *Redis) Get(key string) (interface{}, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Debug().Err(err).Str("key", key).Msg("redis cache get failed")
		}
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	return json.RawMessage(data), true
}

// Set stores a value with the default TTL.
func (c *Redis) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL marshals the value to JSON and stores it. Failures are logged
// and dropped.
func (c *Redis) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		logging.Debug().Err(err).Str("key", key).Msg("redis cache marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		logging.Debug().Err(err).Str("key", key).Msg("redis cache set failed")
	}
}

// Delete removes a single entry.
func (c *Redis) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		logging.Debug().Err(err).Str("key", key).Msg("redis cache delete failed")
	}
	c.recordEviction()
}

// Clear removes all entries under this cache's prefix using SCAN so large
// keyspaces never block the server with a KEYS call.
func (c *Redis) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	iter := c.client.Scan(ctx, 0, c.prefix+":*", 500).Iterator()
	evicted := int64(0)
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err == nil {
			evicted++
		}
	}
	if err := iter.Err(); err != nil {
		logging.Debug().Err(err).Msg("redis cache clear scan failed")
	}

	c.stats.mu.Lock()
	c.stats.Evictions += evicted
	c.stats.mu.Unlock()
}

// GetStats returns client-side counters. TotalKeys is not tracked for the
// redis backend; the server owns the keyspace.
func (c *Redis) GetStats() Stats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return Stats{
		Hits:      c.stats.Hits,
		Misses:    c.stats.Misses,
		Evictions: c.stats.Evictions,
	}
}

// HitRate returns the hit rate as a percentage.
func (c *Redis) HitRate() float64 {
	s := c.GetStats()
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}

// Close releases the underlying connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) recordHit() {
	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
}

func (c *Redis) recordMiss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}

func (c *Redis) recordEviction() {
	c.stats.mu.Lock()
	c.stats.Evictions++
	c.stats.mu.Unlock()
}

var _ Cacher = (*Redis)(nil)
