// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package experiment implements the experiment lifecycle and the sticky
// user-to-policy assignment algorithm.
package experiment

import (
	"context"
	"crypto/md5" //nolint:gosec // deterministic bucketing hash, not a security boundary
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/banditlabs/banditd/internal/cache"
	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/models"
)

// Manager owns experiment CRUD and sticky assignment. Assignments are
// cached with a bounded TTL; ending an experiment clears the whole
// assignment cache since entries are keyed per (experiment, user) and the
// cache is private to this manager.
type Manager struct {
	db        *database.DB
	cache     cache.Cacher
	assignTTL time.Duration
}

// NewManager builds a Manager. cacher may be nil to disable the
// assignment cache.
func NewManager(db *database.DB, cacher cache.Cacher, assignTTL time.Duration) *Manager {
	if assignTTL <= 0 {
		assignTTL = time.Hour
	}
	return &Manager{db: db, cache: cacher, assignTTL: assignTTL}
}

// CreateParams are the caller-settable fields of a new experiment.
type CreateParams struct {
	Name          string     `json:"name" validate:"required,min=1,max=200"`
	StartAt       *time.Time `json:"start_at,omitempty"`
	EndAt         *time.Time `json:"end_at,omitempty"`
	TrafficPct    float64    `json:"traffic_pct" validate:"min=0,max=1"`
	DefaultPolicy string     `json:"default_policy" validate:"required"`
	Notes         string     `json:"notes,omitempty"`
}

// Create registers a new experiment. StartAt defaults to now.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*models.Experiment, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("experiment name is required: %w", models.ErrInvalidArgument)
	}
	if p.TrafficPct < 0 || p.TrafficPct > 1 {
		return nil, fmt.Errorf("traffic_pct %v outside [0,1]: %w", p.TrafficPct, models.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	startAt := now
	if p.StartAt != nil {
		startAt = p.StartAt.UTC()
	}
	exp := &models.Experiment{
		ID:            uuid.New(),
		Name:          p.Name,
		StartAt:       startAt,
		EndAt:         p.EndAt,
		TrafficPct:    p.TrafficPct,
		DefaultPolicy: p.DefaultPolicy,
		Notes:         p.Notes,
		CreatedAt:     now,
	}
	if err := m.db.CreateExperiment(ctx, exp); err != nil {
		return nil, err
	}

	logging.Info().
		Str("experiment_id", exp.ID.String()).
		Str("name", exp.Name).
		Float64("traffic_pct", exp.TrafficPct).
		Msg("Experiment created")
	return exp, nil
}

// UpdateParams carries the patchable fields; nil means unchanged. Only
// name, end_at, traffic_pct and notes are mutable after creation.
type UpdateParams struct {
	Name       *string    `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	EndAt      *time.Time `json:"end_at,omitempty"`
	TrafficPct *float64   `json:"traffic_pct,omitempty" validate:"omitempty,min=0,max=1"`
	Notes      *string    `json:"notes,omitempty"`
}

// Update patches an experiment. Ended experiments reject mutation.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*models.Experiment, error) {
	exp, err := m.db.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status(time.Now()) == models.StatusEnded {
		return nil, fmt.Errorf("experiment %s already ended: %w", id, models.ErrConflict)
	}

	if p.Name != nil {
		exp.Name = *p.Name
	}
	if p.EndAt != nil {
		exp.EndAt = p.EndAt
	}
	if p.TrafficPct != nil {
		if *p.TrafficPct < 0 || *p.TrafficPct > 1 {
			return nil, fmt.Errorf("traffic_pct %v outside [0,1]: %w", *p.TrafficPct, models.ErrInvalidArgument)
		}
		exp.TrafficPct = *p.TrafficPct
	}
	if p.Notes != nil {
		exp.Notes = *p.Notes
	}

	if err := m.db.UpdateExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// End stops an experiment by stamping end_at with the current time and
// clears the assignment cache. Already-ended experiments conflict.
func (m *Manager) End(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	exp, err := m.db.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if exp.Status(now) == models.StatusEnded {
		return nil, fmt.Errorf("experiment %s already ended: %w", id, models.ErrConflict)
	}

	if err := m.db.EndExperiment(ctx, id, now); err != nil {
		return nil, err
	}
	exp.EndAt = &now

	if m.cache != nil {
		m.cache.Clear()
	}

	logging.Info().Str("experiment_id", id.String()).Msg("Experiment ended")
	return exp, nil
}

// Get fetches one experiment.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	return m.db.GetExperiment(ctx, id)
}

// List returns experiments, optionally filtered by derived status.
func (m *Manager) List(ctx context.Context, status models.ExperimentStatus) ([]*models.Experiment, error) {
	all, err := m.db.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	now := time.Now()
	out := all[:0]
	for _, exp := range all {
		if exp.Status(now) == status {
			out = append(out, exp)
		}
	}
	return out, nil
}

// Stats returns assignment counts by policy plus the total.
func (m *Manager) Stats(ctx context.Context, id uuid.UUID) (map[string]int64, int64, error) {
	if _, err := m.db.GetExperiment(ctx, id); err != nil {
		return nil, 0, err
	}
	byPolicy, err := m.db.CountAssignmentsByPolicy(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	for _, n := range byPolicy {
		total += n
	}
	return byPolicy, total, nil
}

// ValidationReport lists blocking issues and advisory warnings.
type ValidationReport struct {
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
	Valid    bool     `json:"valid"`
}

// Validate checks an experiment's configuration and live shape.
func (m *Manager) Validate(ctx context.Context, id uuid.UUID) (*ValidationReport, error) {
	exp, err := m.db.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{Issues: []string{}, Warnings: []string{}}
	now := time.Now()

	if exp.EndAt != nil && exp.EndAt.Before(exp.StartAt) {
		report.Issues = append(report.Issues, "end_at precedes start_at")
	}
	if exp.StartAt.After(now.Add(30 * 24 * time.Hour)) {
		report.Warnings = append(report.Warnings, "start_at is more than 30 days in the future")
	}
	if exp.Status(now) == models.StatusActive {
		_, total, err := m.Stats(ctx, id)
		if err != nil {
			return nil, err
		}
		if total == 0 {
			report.Warnings = append(report.Warnings, "active experiment has no assignments")
		}
	}

	report.Valid = len(report.Issues) == 0
	return report, nil
}

// Assignment is the result of Assign.
type Assignment struct {
	Policy string `json:"policy"`
	Bucket int    `json:"bucket"`

	// InExperiment is false when the user fell outside the traffic gate
	// or the experiment is not active; no row is persisted then.
	InExperiment bool `json:"in_experiment"`
}

// Assign resolves the sticky policy for a user:
//
//  1. An existing assignment always wins.
//  2. Outside the experiment's active window: default policy, bucket 0,
//     nothing persisted.
//  3. bucket = hash mod 100; at or above floor(traffic_pct*100) the user
//     is out of traffic, nothing persisted.
//  4. Otherwise policy = policies[hash mod len(policies)], persisted with
//     first-writer-wins semantics.
func (m *Manager) Assign(ctx context.Context, experimentID uuid.UUID, userID int64, policies []string) (*Assignment, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("assignment needs at least one policy: %w", models.ErrInvalidArgument)
	}

	if a := m.cachedAssignment(experimentID, userID); a != nil {
		return a, nil
	}

	if existing, err := m.db.GetAssignment(ctx, experimentID, userID); err == nil {
		a := &Assignment{Policy: existing.Policy, Bucket: existing.Bucket, InExperiment: true}
		m.storeAssignment(experimentID, userID, a)
		return a, nil
	}

	exp, err := m.db.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if exp.Status(now) != models.StatusActive {
		return &Assignment{Policy: exp.DefaultPolicy, Bucket: 0, InExperiment: false}, nil
	}

	h := assignmentHash(experimentID.String(), userID)
	bucket := int(new(big.Int).Mod(h, big.NewInt(100)).Int64())

	gate := int(exp.TrafficPct * 100)
	if bucket >= gate {
		return &Assignment{Policy: exp.DefaultPolicy, Bucket: bucket, InExperiment: false}, nil
	}

	idx := int(new(big.Int).Mod(h, big.NewInt(int64(len(policies)))).Int64())
	chosen := policies[idx]

	row := &models.PolicyAssignment{
		ExperimentID: experimentID,
		UserID:       userID,
		Policy:       chosen,
		Bucket:       bucket,
	}
	inserted, err := m.db.InsertAssignment(ctx, row)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// A concurrent assigner won; both callers converge on its row.
		existing, err := m.db.GetAssignment(ctx, experimentID, userID)
		if err != nil {
			return nil, err
		}
		row = existing
	}

	a := &Assignment{Policy: row.Policy, Bucket: row.Bucket, InExperiment: true}
	m.storeAssignment(experimentID, userID, a)
	return a, nil
}

// assignmentHash computes the 128-bit bucketing hash over
// "experiment_id:user_id". MD5 keeps the value stable across processes
// and restarts; determinism is the requirement, not collision resistance.
func assignmentHash(experimentID string, userID int64) *big.Int {
	sum := md5.Sum([]byte(experimentID + ":" + strconv.FormatInt(userID, 10))) //nolint:gosec
	return new(big.Int).SetBytes(sum[:])
}

func assignmentCacheKey(experimentID uuid.UUID, userID int64) string {
	return "as:" + experimentID.String() + ":" + strconv.FormatInt(userID, 10)
}

func (m *Manager) cachedAssignment(experimentID uuid.UUID, userID int64) *Assignment {
	if m.cache == nil {
		return nil
	}
	v, ok := m.cache.Get(assignmentCacheKey(experimentID, userID))
	if !ok {
		return nil
	}
	var a Assignment
	if err := cache.Decode(v, &a); err != nil {
		logging.Debug().Err(err).Msg("Dropping undecodable cached assignment")
		return nil
	}
	return &a
}

func (m *Manager) storeAssignment(experimentID uuid.UUID, userID int64, a *Assignment) {
	if m.cache == nil {
		return
	}
	m.cache.SetWithTTL(assignmentCacheKey(experimentID, userID), a, m.assignTTL)
}
