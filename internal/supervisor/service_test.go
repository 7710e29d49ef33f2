// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/banditlabs/banditd/internal/logging"
)

// fakeServer implements HTTPServer with controllable lifecycle.
type fakeServer struct {
	stopped  chan struct{}
	serveErr error
	shutdown atomic.Bool
}

func newFakeServer(serveErr error) *fakeServer {
	return &fakeServer{stopped: make(chan struct{}), serveErr: serveErr}
}

func (f *fakeServer) ListenAndServe() error {
	if f.serveErr != nil {
		return f.serveErr
	}
	<-f.stopped
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	f.shutdown.Store(true)
	close(f.stopped)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := newFakeServer(nil)
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Let the server goroutine start, then request shutdown.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if !srv.shutdown.Load() {
		t.Error("Shutdown was never called")
	}
}

func TestHTTPServiceSurfacesStartupFailure(t *testing.T) {
	boom := errors.New("address already in use")
	svc := NewHTTPService(newFakeServer(boom), time.Second)

	err := svc.Serve(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Serve error = %v, want wrapped startup failure", err)
	}
}

func TestJobServiceRunsOnSchedule(t *testing.T) {
	var runs atomic.Int64
	svc := NewJobService("test-tick", 10*time.Millisecond, time.Second, true, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := runs.Load(); got < 3 {
		t.Errorf("runs = %d, want at least 3", got)
	}
}

func TestJobServiceSurvivesFailingJob(t *testing.T) {
	var runs atomic.Int64
	svc := NewJobService("test-flaky", 10*time.Millisecond, time.Second, false, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("transient")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve error = %v, want context.Canceled", err)
	}
	if got := runs.Load(); got < 2 {
		t.Errorf("runs = %d, want the loop to keep ticking past failures", got)
	}
}

func TestTreeRunsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	var ran atomic.Bool
	tree.AddPipelineService(NewRunnerService("probe", func(ctx context.Context) error {
		ran.Store(true)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !ran.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-errCh

	if !ran.Load() {
		t.Error("pipeline service never ran")
	}
}
