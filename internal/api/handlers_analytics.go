// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/models"
)

// queryWindow parses from/to query params, defaulting to the last 7 days.
func queryWindow(r *http.Request) (from, to time.Time) {
	now := time.Now().UTC()
	from, to = now.Add(-7*24*time.Hour), now
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			from = t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			to = t
		}
	}
	return from, to
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	exp, err := s.manager.Get(r.Context(), id)
	if err != nil {
		respondError(w, err, "experiment not found")
		return
	}
	summary, err := s.db.ExperimentSummary(r.Context(), exp, time.Now().UTC())
	if err != nil {
		respondError(w, err, "building summary failed")
		return
	}
	respondData(w, http.StatusOK, summary, started)
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	q := r.URL.Query()
	metric := q.Get("metric")
	granularity := q.Get("granularity")
	if granularity == "" {
		granularity = "hour"
	}
	from, to := queryWindow(r)

	points, err := s.db.Timeseries(r.Context(), id.String(), metric, granularity, q.Get("policy"), from, to)
	if err != nil {
		respondError(w, err, "timeseries query failed")
		return
	}
	respondData(w, http.StatusOK, points, started)
}

func (s *Server) handleArmBreakdown(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	q := r.URL.Query()
	from, to := queryWindow(r)

	arms, err := s.db.ArmBreakdown(r.Context(), id.String(), q.Get("policy"), q.Get("sort"), intQuery(r, "limit", 0), from, to)
	if err != nil {
		respondError(w, err, "arm breakdown query failed")
		return
	}
	respondData(w, http.StatusOK, arms, started)
}

func (s *Server) handleCohorts(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	breakdown := r.URL.Query().Get("breakdown")
	if breakdown == "" {
		breakdown = "user_type"
	}
	from, to := queryWindow(r)

	cells, err := s.db.CohortMatrix(r.Context(), id.String(), breakdown, from, to)
	if err != nil {
		respondError(w, err, "cohort query failed")
		return
	}
	respondData(w, http.StatusOK, cells, started)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	limit := intQuery(r, "limit", 100)
	offset := intQuery(r, "offset", 0)

	events, total, err := s.db.ListEvents(r.Context(), id.String(), r.URL.Query().Get("policy"), limit, offset)
	if err != nil {
		respondError(w, err, "event query failed")
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"pagination": models.Pagination{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: int64(offset+limit) < total,
		},
	}, started)
}

// handleExport streams the filtered event log as CSV or JSON. Rows are
// written as they arrive from the store; large exports never buffer.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	policy := r.URL.Query().Get("policy")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	switch format {
	case "csv":
		s.exportCSV(w, r, id.String(), policy)
	case "json":
		s.exportJSON(w, r, id.String(), policy)
	default:
		respondError(w, models.ErrInvalidArgument, "format must be csv or json")
	}
}

var exportHeader = []string{
	"id", "user_id", "movie_id", "policy", "arm_id", "p_score",
	"latency_ms", "reward", "clicked", "rated", "rating_value",
	"thumbs_up", "thumbs_down", "added_to_watchlist", "added_to_favorites",
	"served_at",
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request, experimentID, policy string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=events-%s.csv", experimentID))

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		logging.Error().Err(err).Msg("CSV export header write failed")
		return
	}

	err := s.db.StreamEvents(r.Context(), experimentID, policy, func(ev *models.RecommendationEvent) error {
		return cw.Write(exportRow(ev))
	})
	cw.Flush()
	if err != nil {
		// Headers are gone; all we can do is log and cut the stream.
		logging.Error().Err(err).Str("experiment_id", experimentID).Msg("CSV export aborted")
	}
}

func (s *Server) exportJSON(w http.ResponseWriter, r *http.Request, experimentID, policy string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=events-%s.json", experimentID))

	if _, err := w.Write([]byte("[")); err != nil {
		return
	}
	first := true
	err := s.db.StreamEvents(r.Context(), experimentID, policy, func(ev *models.RecommendationEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if !first {
			if _, err := w.Write([]byte(",")); err != nil {
				return err
			}
		}
		first = false
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		logging.Error().Err(err).Str("experiment_id", experimentID).Msg("JSON export aborted")
		return
	}
	if _, err := w.Write([]byte("]")); err != nil {
		logging.Error().Err(err).Msg("JSON export close failed")
	}
}

func exportRow(ev *models.RecommendationEvent) []string {
	return []string{
		strconv.FormatInt(ev.ID, 10),
		strconv.FormatInt(ev.UserID, 10),
		fmtInt64Ptr(ev.MovieID),
		fmtStrPtr(ev.Policy),
		fmtStrPtr(ev.ArmID),
		fmtFloatPtr(ev.PScore),
		fmtFloatPtr(ev.LatencyMS),
		fmtFloatPtr(ev.Reward),
		strconv.FormatBool(ev.Clicked),
		strconv.FormatBool(ev.Rated),
		fmtFloatPtr(ev.RatingValue),
		strconv.FormatBool(ev.ThumbsUp),
		strconv.FormatBool(ev.ThumbsDown),
		strconv.FormatBool(ev.AddedToWatchlist),
		strconv.FormatBool(ev.AddedToFavorites),
		ev.ServedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fmtStrPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func fmtInt64Ptr(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func fmtFloatPtr(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'g', -1, 64)
}

func (s *Server) handleGuardrails(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	exp, err := s.manager.Get(r.Context(), id)
	if err != nil {
		respondError(w, err, "experiment not found")
		return
	}
	if s.monitor == nil {
		respondError(w, models.ErrBackendUnavailable, "guardrails are not running")
		return
	}
	report, err := s.monitor.Evaluate(r.Context(), exp)
	if err != nil {
		respondError(w, err, "guardrail evaluation failed")
		return
	}
	respondData(w, http.StatusOK, report, started)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	history, err := s.db.ListDecisions(r.Context(), id.String(), intQuery(r, "limit", 50))
	if err != nil {
		respondError(w, err, "decision history query failed")
		return
	}
	respondData(w, http.StatusOK, history, started)
}

func (s *Server) handleRewardStatistics(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	q := r.URL.Query()
	stats, err := s.db.RewardStatistics(r.Context(), id.String(), q.Get("policy"), q.Get("arm"))
	if err != nil {
		respondError(w, err, "reward statistics query failed")
		return
	}
	respondData(w, http.StatusOK, stats, started)
}
