// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package selector is the serving path: it resolves the user's sticky
// policy, selects an arm under the latency budget, and publishes the
// recommendation event without blocking the response.
package selector

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/eventbus"
	"github.com/banditlabs/banditd/internal/experiment"
	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/metrics"
	"github.com/banditlabs/banditd/internal/models"
	"github.com/banditlabs/banditd/internal/policy"
)

// Config parameterizes the serving path.
type Config struct {
	// Policies is the experiment's policy roster, in assignment order.
	Policies []string

	// DefaultPolicy serves out-of-traffic users and all fallbacks.
	DefaultPolicy string

	// Budget bounds the policy-state read; past it selection falls back
	// to the default policy on lazy-default state.
	Budget time.Duration

	PolicyCfg policy.Config
}

// Selection is one served arm.
type Selection struct {
	ExperimentID string                 `json:"experiment_id"`
	Policy       string                 `json:"policy"`
	Bucket       int                    `json:"bucket"`
	InExperiment bool                   `json:"in_experiment"`
	ArmID        string                 `json:"arm_id"`
	PScore       *float64               `json:"p_score,omitempty"`
	Confidence   float64                `json:"confidence"`
	Fallback     bool                   `json:"fallback"`
	LatencyMS    float64                `json:"latency_ms"`
	Context      *models.BanditContext  `json:"context"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Selector wires the serving path together.
type Selector struct {
	db      *database.DB
	manager *experiment.Manager
	store   *policy.StateStore
	bus     *eventbus.Bus
	errWin  *metrics.ErrorWindow
	cfg     Config

	policies map[string]policy.Policy
}

// New builds a Selector. Unknown names in cfg.Policies are rejected at
// construction, not at request time.
func New(db *database.DB, manager *experiment.Manager, store *policy.StateStore, bus *eventbus.Bus, errWin *metrics.ErrorWindow, cfg Config) (*Selector, error) {
	if cfg.Budget <= 0 {
		cfg.Budget = 120 * time.Millisecond
	}
	if len(cfg.Policies) == 0 {
		cfg.Policies = []string{policy.NameThompson, policy.NameEGreedy, policy.NameUCB}
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = policy.NameThompson
	}

	instances := make(map[string]policy.Policy, len(cfg.Policies)+1)
	for _, name := range append(append([]string{}, cfg.Policies...), cfg.DefaultPolicy) {
		canonical, err := policy.CanonicalName(name)
		if err != nil {
			return nil, err
		}
		if _, ok := instances[canonical]; ok {
			continue
		}
		p, err := policy.New(canonical, cfg.PolicyCfg)
		if err != nil {
			return nil, err
		}
		instances[canonical] = p
	}

	return &Selector{
		db:       db,
		manager:  manager,
		store:    store,
		bus:      bus,
		errWin:   errWin,
		cfg:      cfg,
		policies: instances,
	}, nil
}

// Select serves one arm for a user. The policy-state read runs under the
// latency budget; on timeout or an open breaker the default policy selects
// over lazy-default state and the event carries the fallback flag.
func (s *Selector) Select(ctx context.Context, experimentID uuid.UUID, userID int64, arms []string, bctx *models.BanditContext) (*Selection, error) {
	start := time.Now()
	if len(arms) == 0 {
		return nil, models.ErrNoArms
	}

	bctx = s.enrichContext(ctx, userID, bctx)

	assignment, err := s.manager.Assign(ctx, experimentID, userID, s.cfg.Policies)
	if err != nil {
		s.recordServe(experimentID, true)
		return nil, err
	}

	policyName := assignment.Policy
	if policyName == "" || !assignment.InExperiment {
		policyName = s.cfg.DefaultPolicy
	}

	result, fallback, err := s.selectArm(ctx, policyName, arms, bctx)
	if err != nil {
		s.recordServe(experimentID, true)
		return nil, err
	}
	if fallback {
		policyName = s.cfg.DefaultPolicy
		if bctx.Extra == nil {
			bctx.Extra = make(map[string]string, 1)
		}
		bctx.Extra[models.FallbackFlag] = "true"
		metrics.SelectionFallbacks.Inc()
	}

	latencyMS := float64(time.Since(start).Microseconds()) / 1000
	sel := &Selection{
		ExperimentID: experimentID.String(),
		Policy:       policyName,
		Bucket:       assignment.Bucket,
		InExperiment: assignment.InExperiment,
		ArmID:        result.ArmID,
		PScore:       result.PScore,
		Confidence:   result.Confidence,
		Fallback:     fallback,
		LatencyMS:    latencyMS,
		Context:      bctx,
		Metadata:     result.Metadata,
	}

	s.publishEvent(sel, userID)
	s.recordServe(experimentID, false)
	metrics.SelectionsTotal.WithLabelValues(policyName).Inc()
	metrics.SelectionDuration.WithLabelValues(policyName).Observe(time.Since(start).Seconds())

	return sel, nil
}

// selectArm runs the assigned policy under the budget. fallback reports
// that the default policy selected over lazy-default state instead.
func (s *Selector) selectArm(ctx context.Context, policyName string, arms []string, bctx *models.BanditContext) (*policy.Result, bool, error) {
	pol, ok := s.policies[policyName]
	if !ok {
		return nil, false, models.ErrInvalidArgument
	}

	readCtx, cancel := context.WithTimeout(ctx, s.cfg.Budget)
	defer cancel()

	states, err := s.store.GetAll(readCtx, policyName, bctx.Key(), arms)
	if err == nil {
		result, serr := pol.Select(states)
		return result, false, serr
	}

	if !errors.Is(err, models.ErrBackendUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, false, err
	}

	logging.Warn().Err(err).
		Str("policy", policyName).
		Msg("Policy state read failed, falling back to default policy")

	fallbackPol := s.policies[s.cfg.DefaultPolicy]
	defaults := make([]*models.PolicyState, len(arms))
	for i, arm := range arms {
		defaults[i] = models.DefaultPolicyState(s.cfg.DefaultPolicy, arm, bctx.Key())
	}
	result, serr := fallbackPol.Select(defaults)
	return result, true, serr
}

// enrichContext fills the time-derived fields and classifies the user by
// interaction volume. Caller-provided fields win.
func (s *Selector) enrichContext(ctx context.Context, userID int64, bctx *models.BanditContext) *models.BanditContext {
	if bctx == nil {
		bctx = &models.BanditContext{}
	}
	clock := models.ContextFromClock(time.Now())
	if bctx.TimePeriod == "" {
		bctx.TimePeriod = clock.TimePeriod
	}
	if bctx.DayOfWeek == "" {
		bctx.DayOfWeek = clock.DayOfWeek
	}
	if bctx.UserType == "" {
		n, err := s.db.CountUserInteractions(ctx, userID)
		if err != nil {
			logging.Debug().Err(err).Int64("user_id", userID).
				Msg("User activity lookup failed, leaving user_type unset")
		} else {
			bctx.UserType = models.UserTypeForActivity(n)
		}
	}
	return bctx
}

// publishEvent hands the served event to the bus. A full bus drops the
// event rather than the response.
func (s *Selector) publishEvent(sel *Selection, userID int64) {
	policyName := sel.Policy
	expID := sel.ExperimentID
	armID := sel.ArmID
	latency := sel.LatencyMS
	ev := &models.RecommendationEvent{
		UserID:       userID,
		Algorithm:    "bandit",
		Context:      sel.Context,
		ExperimentID: &expID,
		Policy:       &policyName,
		ArmID:        &armID,
		PScore:       sel.PScore,
		LatencyMS:    &latency,
		ServedAt:     time.Now().UTC(),
	}
	if err := s.bus.Publish(ev); err != nil {
		logging.Error().Err(err).
			Str("experiment_id", expID).
			Msg("Event publish failed, serve not recorded")
		return
	}
	metrics.EventsPublished.Inc()
}

func (s *Selector) recordServe(experimentID uuid.UUID, failed bool) {
	if s.errWin != nil {
		s.errWin.RecordServe(experimentID.String(), failed)
	}
}
