// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/banditlabs/banditd/internal/cache"
	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/models"
)

// StateStore serves policy state with a read-through cache and a circuit
// breaker on the selection read path. The database stays authoritative:
// updates go straight through and invalidate the cache; an open breaker
// surfaces ErrBackendUnavailable so the caller can fall back to the
// default policy instead of stalling a request.
type StateStore struct {
	db      *database.DB
	cache   cache.Cacher
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[[]*models.PolicyState]
}

// NewStateStore builds a StateStore. cacher may be nil to disable caching.
func NewStateStore(db *database.DB, cacher cache.Cacher, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	breaker := gobreaker.NewCircuitBreaker[[]*models.PolicyState](gobreaker.Settings{
		Name:    "policy-state-read",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})
	return &StateStore{db: db, cache: cacher, ttl: ttl, breaker: breaker}
}

// Get reads one state row, preferring the cache.
func (s *StateStore) Get(ctx context.Context, policy, armID, contextKey string) (*models.PolicyState, error) {
	states, err := s.GetAll(ctx, policy, contextKey, []string{armID})
	if err != nil {
		return nil, err
	}
	return states[0], nil
}

// GetAll reads state for a set of arms, serving cached rows and batch-
// fetching the rest through the circuit breaker. The result preserves the
// requested arm order.
func (s *StateStore) GetAll(ctx context.Context, policy, contextKey string, armIDs []string) ([]*models.PolicyState, error) {
	if len(armIDs) == 0 {
		return nil, models.ErrNoArms
	}

	out := make([]*models.PolicyState, len(armIDs))
	var missing []string
	missingIdx := make(map[string]int, len(armIDs))

	for i, armID := range armIDs {
		if st := s.cached(policy, armID, contextKey); st != nil {
			out[i] = st
			continue
		}
		missing = append(missing, armID)
		missingIdx[armID] = i
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := s.breaker.Execute(func() ([]*models.PolicyState, error) {
		return s.db.GetPolicyStates(ctx, policy, contextKey, missing)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("policy state read: %w", models.ErrBackendUnavailable)
		}
		return nil, err
	}

	for _, st := range fetched {
		out[missingIdx[st.ArmID]] = st
		s.store(st)
	}
	return out, nil
}

// Update applies a commutative delta and invalidates the cached row.
// Updates never consult the breaker: the worker path prefers an error
// over silently dropping learning signal.
func (s *StateStore) Update(ctx context.Context, policy, armID, contextKey string, delta models.StateDelta) (*models.PolicyState, error) {
	st, err := s.db.ApplyStateDelta(ctx, policy, armID, contextKey, delta)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Delete(stateCacheKey(policy, armID, contextKey))
	}
	return st, nil
}

func (s *StateStore) cached(policy, armID, contextKey string) *models.PolicyState {
	if s.cache == nil {
		return nil
	}
	v, ok := s.cache.Get(stateCacheKey(policy, armID, contextKey))
	if !ok {
		return nil
	}
	var st models.PolicyState
	if err := cache.Decode(v, &st); err != nil {
		logging.Debug().Err(err).Msg("Dropping undecodable cached policy state")
		return nil
	}
	return &st
}

func (s *StateStore) store(st *models.PolicyState) {
	if s.cache == nil {
		return
	}
	s.cache.SetWithTTL(stateCacheKey(st.Policy, st.ArmID, st.ContextKey), st, s.ttl)
}

func stateCacheKey(policy, armID, contextKey string) string {
	return "ps:" + policy + ":" + contextKey + ":" + armID
}
