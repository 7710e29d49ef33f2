// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package api

import (
	"net/http"
	"time"

	"github.com/banditlabs/banditd/internal/models"
	"github.com/banditlabs/banditd/internal/validation"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	status := "ok"
	code := http.StatusOK
	if err := s.db.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondData(w, code, map[string]string{"status": status}, started)
}

// armRequest registers or updates an arm catalog entry.
type armRequest struct {
	ArmID    string            `json:"arm_id" validate:"required,min=1,max=100"`
	Title    string            `json:"title" validate:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleUpsertArm(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req armRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, "malformed arm body")
		return
	}
	if apiErr := validation.Struct(&req); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	arm := &models.Arm{ArmID: req.ArmID, Title: req.Title, Metadata: req.Metadata}
	if err := s.db.UpsertArm(r.Context(), arm); err != nil {
		respondError(w, err, "storing arm failed")
		return
	}
	respondData(w, http.StatusCreated, arm, started)
}

func (s *Server) handleListArms(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	arms, err := s.db.ListArms(r.Context())
	if err != nil {
		respondError(w, err, "listing arms failed")
		return
	}
	respondData(w, http.StatusOK, arms, started)
}

func (s *Server) handleWorkerStats(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if s.worker == nil {
		respondError(w, models.ErrBackendUnavailable, "reward worker is not running")
		return
	}
	respondData(w, http.StatusOK, s.worker.Stats(), started)
}

func (s *Server) handleBusStats(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if s.bus == nil {
		respondError(w, models.ErrBackendUnavailable, "event bus is not running")
		return
	}
	respondData(w, http.StatusOK, s.bus.Stats(), started)
}
