// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package api

import (
	"net/http"
	"time"

	"github.com/banditlabs/banditd/internal/experiment"
	"github.com/banditlabs/banditd/internal/models"
	"github.com/banditlabs/banditd/internal/validation"
)

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var params experiment.CreateParams
	if err := decodeJSON(r, &params); err != nil {
		respondError(w, err, "malformed experiment body")
		return
	}
	if apiErr := validation.Struct(&params); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	exp, err := s.manager.Create(r.Context(), params)
	if err != nil {
		respondError(w, err, "creating experiment failed")
		return
	}
	respondData(w, http.StatusCreated, exp, started)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	status := models.ExperimentStatus(r.URL.Query().Get("status"))
	experiments, err := s.manager.List(r.Context(), status)
	if err != nil {
		respondError(w, err, "listing experiments failed")
		return
	}
	respondData(w, http.StatusOK, experiments, started)
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
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
	respondData(w, http.StatusOK, exp, started)
}

func (s *Server) handleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}

	var params experiment.UpdateParams
	if err := decodeJSON(r, &params); err != nil {
		respondError(w, err, "malformed patch body")
		return
	}
	if apiErr := validation.Struct(&params); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	exp, err := s.manager.Update(r.Context(), id, params)
	if err != nil {
		respondError(w, err, "updating experiment failed")
		return
	}
	respondData(w, http.StatusOK, exp, started)
}

func (s *Server) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	exp, err := s.manager.End(r.Context(), id)
	if err != nil {
		respondError(w, err, "stopping experiment failed")
		return
	}
	respondData(w, http.StatusOK, exp, started)
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	limit := intQuery(r, "limit", 100)
	offset := intQuery(r, "offset", 0)

	assignments, total, err := s.db.ListAssignments(r.Context(), id, r.URL.Query().Get("policy"), limit, offset)
	if err != nil {
		respondError(w, err, "listing assignments failed")
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{
		"assignments": assignments,
		"pagination": models.Pagination{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: int64(offset+limit) < total,
		},
	}, started)
}

func (s *Server) handleValidateExperiment(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	report, err := s.manager.Validate(r.Context(), id)
	if err != nil {
		respondError(w, err, "validating experiment failed")
		return
	}

	exp, err := s.manager.Get(r.Context(), id)
	if err != nil {
		respondError(w, err, "experiment not found")
		return
	}
	_, total, err := s.manager.Stats(r.Context(), id)
	if err != nil {
		respondError(w, err, "reading assignment stats failed")
		return
	}

	respondData(w, http.StatusOK, map[string]interface{}{
		"valid":            report.Valid,
		"issues":           report.Issues,
		"warnings":         report.Warnings,
		"assignment_count": total,
		"status":           exp.Status(time.Now()),
	}, started)
}

func (s *Server) handleExperimentStats(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}
	byPolicy, total, err := s.manager.Stats(r.Context(), id)
	if err != nil {
		respondError(w, err, "reading experiment stats failed")
		return
	}

	// Per-policy traffic share of all assigned users.
	allocation := make(map[string]float64, len(byPolicy))
	if total > 0 {
		for p, n := range byPolicy {
			allocation[p] = float64(n) / float64(total)
		}
	}
	respondData(w, http.StatusOK, map[string]interface{}{
		"assignments_by_policy": byPolicy,
		"total_assignments":     total,
		"traffic_allocation":    allocation,
	}, started)
}
