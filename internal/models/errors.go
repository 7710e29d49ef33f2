// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package models

import "errors"

// Sentinel errors forming the platform-wide error taxonomy. Callers wrap
// these with %w and branch with errors.Is; the API layer maps them to HTTP
// status codes.
var (
	// ErrNotFound indicates an unknown experiment or entity id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates a malformed or out-of-range input
	// (bad UUID, traffic_pct outside [0,1], unknown policy name,
	// malformed metric or granularity).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoArms indicates arm selection was attempted with an empty arm list.
	ErrNoArms = errors.New("no arms available for selection")

	// ErrConflict indicates an attempt to mutate an ended experiment or a
	// duplicate sticky assignment (recovered by read-back).
	ErrConflict = errors.New("conflict")

	// ErrBackendUnavailable indicates a transient durable-store or cache failure.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrTimeout indicates an operation exceeded its budget.
	ErrTimeout = errors.New("timeout")
)

// ErrorCode returns the machine-readable API code for an error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrNoArms), errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrBackendUnavailable):
		return "BACKEND_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
