// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/banditlabs/banditd/internal/models"
	"github.com/banditlabs/banditd/internal/validation"
)

// selectRequest is the arm-selection body. Arms are the candidate set the
// caller can actually serve; context is optional and gets enriched with
// clock- and activity-derived fields.
type selectRequest struct {
	UserID  int64                 `json:"user_id" validate:"required"`
	Arms    []string              `json:"arms" validate:"required,min=1"`
	Context *models.BanditContext `json:"context,omitempty"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := experimentID(r)
	if err != nil {
		respondError(w, err, "malformed experiment id")
		return
	}

	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, "malformed selection body")
		return
	}
	if apiErr := validation.Struct(&req); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	sel, err := s.selector.Select(r.Context(), id, req.UserID, req.Arms, req.Context)
	if err != nil {
		respondError(w, err, "arm selection failed")
		return
	}
	respondData(w, http.StatusOK, sel, started)
}

// trackRequest attaches one interaction to the most recent event for
// (user, item). Value carries the rating or watch ratio where relevant.
type trackRequest struct {
	UserID  int64      `json:"user_id" validate:"required"`
	MovieID int64      `json:"movie_id" validate:"required"`
	Value   float64    `json:"value,omitempty"`
	At      *time.Time `json:"at,omitempty"`
}

// trackKinds maps URL segments onto interaction kinds.
var trackKinds = map[string]models.InteractionKind{
	"click":       models.InteractionClick,
	"rating":      models.InteractionRating,
	"thumbs-up":   models.InteractionThumbsUp,
	"thumbs-down": models.InteractionThumbsDown,
	"favorite":    models.InteractionFavorite,
	"watchlist":   models.InteractionWatchlist,
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	kind, ok := trackKinds[chi.URLParam(r, "kind")]
	if !ok {
		respondError(w, models.ErrInvalidArgument, "unknown interaction kind")
		return
	}

	var req trackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, "malformed tracking body")
		return
	}
	if apiErr := validation.Struct(&req); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}

	matched, err := s.db.MarkInteraction(r.Context(), req.UserID, req.MovieID, kind, req.Value, at)
	if err != nil {
		respondError(w, err, "recording interaction failed")
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{
		"matched": matched,
		"kind":    kind,
	}, started)
}
