// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package eventbus decouples event persistence from the serving path. The
// selection handler publishes recommendation events to an in-process
// pub/sub; a batching consumer drains them into the event log so a slow
// write never blocks arm selection.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/models"
)

// TopicRecommendations carries serialized RecommendationEvents.
const TopicRecommendations = "events.recommendations"

// Config holds bus tuning knobs.
type Config struct {
	// Buffer is the pub/sub channel depth; publishes block once full.
	Buffer int64

	// BatchSize and FlushInterval bound the write batches: a batch is
	// flushed when either is reached.
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Buffer:        4096,
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// Stats holds consumer counters for monitoring.
type Stats struct {
	Published   int64     `json:"published"`
	Persisted   int64     `json:"persisted"`
	ParseErrors int64     `json:"parse_errors"`
	WriteErrors int64     `json:"write_errors"`
	LastFlush   time.Time `json:"last_flush"`
}

// Bus is the in-process event pipeline.
type Bus struct {
	pubsub *gochannel.GoChannel
	db     *database.DB
	cfg    Config

	published   atomic.Int64
	persisted   atomic.Int64
	parseErrors atomic.Int64
	writeErrors atomic.Int64
	lastFlush   atomic.Value // time.Time

	closeOnce sync.Once
}

// New builds a Bus over a GoChannel pub/sub.
func New(db *database.DB, cfg Config) *Bus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	b := &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.Buffer,
		}, NewLoggerAdapter()),
		db:  db,
		cfg: cfg,
	}
	b.lastFlush.Store(time.Time{})
	return b
}

// Publish enqueues one event for persistence. The event is serialized at
// publish time so later mutation by the caller is safe.
func (b *Bus) Publish(ev *models.RecommendationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(TopicRecommendations, msg); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	b.published.Add(1)
	return nil
}

// Serve drains the topic into the event log until ctx is canceled. Batches
// are flushed on size or on the flush interval, whichever comes first.
func (b *Bus) Serve(ctx context.Context) error {
	msgs, err := b.pubsub.Subscribe(ctx, TopicRecommendations)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", TopicRecommendations, err)
	}

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*message.Message, 0, b.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			b.flush(batch)
			return ctx.Err()
		case <-ticker.C:
			b.flush(batch)
			batch = batch[:0]
		case msg, ok := <-msgs:
			if !ok {
				b.flush(batch)
				return nil
			}
			batch = append(batch, msg)
			if len(batch) >= b.cfg.BatchSize {
				b.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush writes one batch. Undecodable messages are acked and counted; a
// write failure nacks the message for redelivery.
func (b *Bus) flush(batch []*message.Message) {
	if len(batch) == 0 {
		return
	}
	ctx := context.Background()
	for _, msg := range batch {
		var ev models.RecommendationEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			b.parseErrors.Add(1)
			logging.Error().Err(err).
				Str("message_id", msg.UUID).
				Msg("Dropping undecodable event")
			msg.Ack()
			continue
		}
		if err := b.db.AppendEvent(ctx, &ev); err != nil {
			b.writeErrors.Add(1)
			logging.Error().Err(err).
				Str("message_id", msg.UUID).
				Msg("Event append failed")
			msg.Nack()
			continue
		}
		b.persisted.Add(1)
		msg.Ack()
	}
	b.lastFlush.Store(time.Now().UTC())
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	last, _ := b.lastFlush.Load().(time.Time)
	return Stats{
		Published:   b.published.Load(),
		Persisted:   b.persisted.Load(),
		ParseErrors: b.parseErrors.Load(),
		WriteErrors: b.writeErrors.Load(),
		LastFlush:   last,
	}
}

// Close shuts the pub/sub down; pending messages are dropped.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.pubsub.Close()
	})
	return err
}
