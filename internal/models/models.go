// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package models defines the persistent entities of the experimentation
// platform and the shared API response envelope.
//
// Ownership follows the storage layout: the event log owns
// RecommendationEvent, the policy state store owns PolicyState, and the
// experiment manager owns Experiment and PolicyAssignment. In-memory
// caches hold subordinate copies with bounded TTL; the database is the
// only authoritative state.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ExperimentStatus is derived from the clock, never stored.
type ExperimentStatus string

const (
	StatusScheduled ExperimentStatus = "scheduled"
	StatusActive    ExperimentStatus = "active"
	StatusEnded     ExperimentStatus = "ended"
)

// Experiment is a bandit A/B experiment. Experiments are never physically
// deleted; ending one sets EndAt to the current time.
type Experiment struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	StartAt       time.Time  `json:"start_at"`
	EndAt         *time.Time `json:"end_at,omitempty"`
	TrafficPct    float64    `json:"traffic_pct"`
	DefaultPolicy string     `json:"default_policy"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Status derives the lifecycle state from the clock.
func (e *Experiment) Status(now time.Time) ExperimentStatus {
	if now.Before(e.StartAt) {
		return StatusScheduled
	}
	if e.EndAt != nil && !now.Before(*e.EndAt) {
		return StatusEnded
	}
	return StatusActive
}

// PolicyAssignment records a sticky user-to-policy assignment within an
// experiment. Unique per (experiment, user); immutable once written.
type PolicyAssignment struct {
	ID           int64     `json:"id"`
	ExperimentID uuid.UUID `json:"experiment_id"`
	UserID       int64     `json:"user_id"`
	Policy       string    `json:"policy"`
	Bucket       int       `json:"bucket"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// Arm is a catalog entry for a named recommendation strategy. Written once
// per arm; read-only at request time.
type Arm struct {
	ArmID     string            `json:"arm_id"`
	Title     string            `json:"title"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// PolicyState holds per-(policy, arm, context_key) learning state.
//
// Invariants: Count, Alpha and Beta are monotonically non-decreasing;
// MeanReward equals SumReward/Count after every update (0 when Count is 0).
type PolicyState struct {
	Policy         string     `json:"policy"`
	ArmID          string     `json:"arm_id"`
	ContextKey     string     `json:"context_key"`
	Count          int64      `json:"count"`
	SumReward      float64    `json:"sum_reward"`
	MeanReward     float64    `json:"mean_reward"`
	Alpha          float64    `json:"alpha"`
	Beta           float64    `json:"beta"`
	LastSelectedAt *time.Time `json:"last_selected_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DefaultPolicyState returns the lazily-created default state for a key
// that has never been updated: zero counters with a uniform Beta(1,1) prior.
func DefaultPolicyState(policy, armID, contextKey string) *PolicyState {
	return &PolicyState{
		Policy:     policy,
		ArmID:      armID,
		ContextKey: contextKey,
		Alpha:      1.0,
		Beta:       1.0,
	}
}

// StateDelta is an atomic increment applied to a PolicyState row.
// All fields are commutative additions, so any serial ordering of
// concurrent deltas yields the same final state.
type StateDelta struct {
	Count          int64
	SumReward      float64
	Alpha          float64
	Beta           float64
	LastSelectedAt time.Time
}

// InteractionKind identifies a user interaction attached to an event.
type InteractionKind string

const (
	InteractionClick      InteractionKind = "click"
	InteractionRating     InteractionKind = "rating"
	InteractionThumbsUp   InteractionKind = "thumbs_up"
	InteractionThumbsDown InteractionKind = "thumbs_down"
	InteractionFavorite   InteractionKind = "favorite"
	InteractionWatchlist  InteractionKind = "watchlist"
	InteractionWatch      InteractionKind = "watch"
)

// Interaction is a single user signal against an item, used by the reward
// calculator. Value carries the rating for rating interactions and the
// watched fraction for watch interactions.
type Interaction struct {
	Kind      InteractionKind `json:"kind"`
	Value     float64         `json:"value,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// RecommendationEvent is one served recommendation slot. ServedAt is set at
// creation and never changes; Reward is set at most once.
//
// ExperimentID is a plain string rather than a UUID because offline replay
// tooling writes synthetic experiment identifiers (offline-ml1m-<start>).
type RecommendationEvent struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	MovieID   *int64 `json:"movie_id,omitempty"`
	Algorithm string `json:"algorithm"`
	Position  int    `json:"position"`
	Score     float64 `json:"score"`

	// Interaction flags, set after serving via the tracking endpoints.
	Clicked           bool       `json:"clicked"`
	ClickedAt         *time.Time `json:"clicked_at,omitempty"`
	Rated             bool       `json:"rated"`
	RatedAt           *time.Time `json:"rated_at,omitempty"`
	RatingValue       *float64   `json:"rating_value,omitempty"`
	ThumbsUp          bool       `json:"thumbs_up"`
	ThumbsUpAt        *time.Time `json:"thumbs_up_at,omitempty"`
	ThumbsDown        bool       `json:"thumbs_down"`
	ThumbsDownAt      *time.Time `json:"thumbs_down_at,omitempty"`
	AddedToWatchlist  bool       `json:"added_to_watchlist"`
	AddedToFavorites  bool       `json:"added_to_favorites"`

	// Bandit fields.
	Context      *BanditContext `json:"context,omitempty"`
	ExperimentID *string        `json:"experiment_id,omitempty"`
	Policy       *string        `json:"policy,omitempty"`
	ArmID        *string        `json:"arm_id,omitempty"`
	PScore       *float64       `json:"p_score,omitempty"`
	LatencyMS    *float64       `json:"latency_ms,omitempty"`
	Reward       *float64       `json:"reward,omitempty"`

	ServedAt  time.Time `json:"served_at"`
	CreatedAt time.Time `json:"created_at"`
}

// DecisionRecord is one row of the ship/iterate/kill audit log.
type DecisionRecord struct {
	ID              int64     `json:"id"`
	ExperimentID    string    `json:"experiment_id"`
	Decision        string    `json:"decision"`
	Confidence      float64   `json:"confidence"`
	WindowDays      int       `json:"window_days"`
	BestPolicy      string    `json:"best_policy"`
	UpliftVsControl float64   `json:"uplift_vs_control"`
	Significant     bool      `json:"statistical_significance"`
	Reasoning       string    `json:"reasoning"`
	Recommendations []string  `json:"recommendations"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}
