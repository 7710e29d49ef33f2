// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package supervisor

import (
	"context"
	"time"

	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/metrics"
)

// JobFunc is one run of a scheduled background job.
type JobFunc func(ctx context.Context) error

// JobService runs a named job on a fixed interval under supervision.
// Runs execute inline on the ticker loop, so a slow run absorbs any ticks
// it overlaps instead of piling up concurrent executions. Job failures
// are logged and counted but never crash the service; the next tick
// retries.
type JobService struct {
	name       string
	interval   time.Duration
	timeout    time.Duration
	runOnStart bool
	fn         JobFunc
}

// NewJobService creates a periodic job service. A timeout of zero bounds
// each run by the interval itself.
func NewJobService(name string, interval, timeout time.Duration, runOnStart bool, fn JobFunc) *JobService {
	if timeout <= 0 {
		timeout = interval
	}
	return &JobService{
		name:       name,
		interval:   interval,
		timeout:    timeout,
		runOnStart: runOnStart,
		fn:         fn,
	}
}

// Serve implements suture.Service.
func (j *JobService) Serve(ctx context.Context) error {
	logging.Info().
		Str("job", j.name).
		Dur("interval", j.interval).
		Msg("Job service starting")

	if j.runOnStart {
		j.run(ctx)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("job", j.name).Msg("Job service shutting down")
			return ctx.Err()
		case <-ticker.C:
			j.run(ctx)
		}
	}
}

func (j *JobService) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	err := j.fn(runCtx)
	metrics.RecordJob(j.name, time.Since(start), err)
	if err != nil {
		logging.Warn().
			Str("job", j.name).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("Job run failed")
		return
	}
	logging.Debug().
		Str("job", j.name).
		Dur("duration", time.Since(start)).
		Msg("Job run complete")
}

// String implements fmt.Stringer for suture's event log.
func (j *JobService) String() string {
	return "job-" + j.name
}

// RunnerService adapts a long-running Serve-style function (the event
// bus consumer, for instance) to a named suture service.
type RunnerService struct {
	name string
	run  JobFunc
}

// NewRunnerService wraps a blocking run function as a supervised service.
func NewRunnerService(name string, run JobFunc) *RunnerService {
	return &RunnerService{name: name, run: run}
}

// Serve implements suture.Service.
func (r *RunnerService) Serve(ctx context.Context) error {
	return r.run(ctx)
}

// String implements fmt.Stringer for suture's event log.
func (r *RunnerService) String() string {
	return r.name
}
