// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package models

import (
	"crypto/md5" //nolint:gosec // non-cryptographic partitioning hash, stable across processes
	"encoding/hex"
	"sort"
	"time"
)

// Recognized values for the fixed context fields.
const (
	UserTypeColdStart = "cold_start"
	UserTypeRegular   = "regular"
	UserTypePowerUser = "power_user"

	TimePeriodMorning   = "morning"
	TimePeriodAfternoon = "afternoon"
	TimePeriodEvening   = "evening"
	TimePeriodNight     = "night"

	DayWeekday = "weekday"
	DayWeekend = "weekend"
)

// FallbackFlag is the sentinel key set in a context's Extra map when arm
// selection fell back to the default policy (state-store timeout or open
// circuit breaker).
const FallbackFlag = "fallback"

// BanditContext is the selection context reduced to a fixed set of
// recognized fields plus an overflow map for experiment-specific
// extensions. The fixed fields keep state partitioning coarse enough to
// learn from; free-form maps from callers go into Extra.
type BanditContext struct {
	UserType        string            `json:"user_type,omitempty"`
	TimePeriod      string            `json:"time_period,omitempty"`
	DayOfWeek       string            `json:"day_of_week,omitempty"`
	GenreSaturation string            `json:"genre_saturation,omitempty"`
	SessionPosition string            `json:"session_position,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// ContextFromClock fills the time-derived fields from a wall-clock instant.
func ContextFromClock(now time.Time) BanditContext {
	var period string
	switch h := now.Hour(); {
	case h >= 5 && h < 12:
		period = TimePeriodMorning
	case h >= 12 && h < 17:
		period = TimePeriodAfternoon
	case h >= 17 && h < 22:
		period = TimePeriodEvening
	default:
		period = TimePeriodNight
	}

	day := DayWeekday
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		day = DayWeekend
	}

	return BanditContext{TimePeriod: period, DayOfWeek: day}
}

// UserTypeForActivity classifies a user by interaction volume.
func UserTypeForActivity(interactionCount int64) string {
	switch {
	case interactionCount < 3:
		return UserTypeColdStart
	case interactionCount < 20:
		return UserTypeRegular
	default:
		return UserTypePowerUser
	}
}

// flatten returns the non-empty fields as a key/value map, merging Extra.
// Fixed fields win over Extra entries with the same key.
func (c *BanditContext) flatten() map[string]string {
	m := make(map[string]string, 5+len(c.Extra))
	for k, v := range c.Extra {
		m[k] = v
	}
	if c.UserType != "" {
		m["user_type"] = c.UserType
	}
	if c.TimePeriod != "" {
		m["time_period"] = c.TimePeriod
	}
	if c.DayOfWeek != "" {
		m["day_of_week"] = c.DayOfWeek
	}
	if c.GenreSaturation != "" {
		m["genre_saturation"] = c.GenreSaturation
	}
	if c.SessionPosition != "" {
		m["session_position"] = c.SessionPosition
	}
	return m
}

// Key computes the deterministic context key used to partition policy
// state. Keys are hashed over lexicographically sorted field names so the
// result is independent of map iteration order and stable across
// processes and restarts. The MD5 digest is truncated to 16 hex characters
// (64 bits), matching the width of the state-store key column.
func (c *BanditContext) Key() string {
	if c == nil {
		return emptyContextKey()
	}
	m := c.flatten()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := md5.New() //nolint:gosec // see field comment: stability, not security
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(m[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func emptyContextKey() string {
	h := md5.Sum(nil) //nolint:gosec
	return hex.EncodeToString(h[:])[:16]
}
