// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package eventbus

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/banditlabs/banditd/internal/logging"
)

// zerologAdapter bridges Watermill's logging to the service logger.
type zerologAdapter struct {
	fields watermill.LogFields
}

// NewLoggerAdapter returns a watermill.LoggerAdapter backed by zerolog.
func NewLoggerAdapter() watermill.LoggerAdapter {
	return &zerologAdapter{}
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	ev := logging.Error().Err(err)
	for k, v := range a.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	ev := logging.Info()
	for k, v := range a.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	ev := logging.Debug()
	for k, v := range a.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	ev := logging.Trace()
	for k, v := range a.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zerologAdapter{fields: a.fields.Add(fields)}
}
