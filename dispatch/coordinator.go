// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch fans one command out to every configured backend and
// collects one outcome per backend.
//
// Backends run concurrently and share nothing: a slow, down, or
// misconfigured backend affects only its own outcome. Outcomes are
// returned in configuration order regardless of completion order.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/prithivirajasingh/public-files/lib/clock"
	"github.com/prithivirajasingh/public-files/lib/metrics"
)

// Backend is one dispatch target. *session.Manager implements it.
type Backend interface {
	Name() string
	EnsureAuthenticated(ctx context.Context) error
	Submit(ctx context.Context, command string) (string, error)
}

// resetter is implemented by backends whose saved session can be
// discarded.
type resetter interface {
	Reset(ctx context.Context) error
}

// Config holds configuration for creating a Coordinator.
type Config struct {
	// Backends in configuration order. Names must be unique.
	Backends []Backend

	// Clock times each outcome. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Collector
}

// Coordinator dispatches to a fixed set of backends.
type Coordinator struct {
	backends []Backend
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Collector

	// closers run on Close, for resources the coordinator built itself.
	closers []func() error
}

// New creates a Coordinator.
func New(config Config) (*Coordinator, error) {
	if len(config.Backends) == 0 {
		return nil, fmt.Errorf("dispatch: at least one backend is required")
	}
	seen := make(map[string]bool, len(config.Backends))
	for index, backend := range config.Backends {
		if backend == nil {
			return nil, fmt.Errorf("dispatch: backend %d is nil", index)
		}
		if seen[backend.Name()] {
			return nil, fmt.Errorf("dispatch: duplicate backend name %q", backend.Name())
		}
		seen[backend.Name()] = true
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		backends: append([]Backend(nil), config.Backends...),
		clock:    clk,
		logger:   logger,
		metrics:  config.Metrics,
	}, nil
}

// Backends returns the backend names in configuration order.
func (c *Coordinator) Backends() []string {
	names := make([]string, len(c.backends))
	for index, backend := range c.backends {
		names[index] = backend.Name()
	}
	return names
}

// Dispatch delivers command to every backend and returns one outcome
// per backend, in configuration order. For each backend it ensures a
// session and, only if that succeeds, submits. Nothing is retried
// within the call. The command is passed through unexamined.
func (c *Coordinator) Dispatch(ctx context.Context, command string) []Outcome {
	logger := c.logger.With("dispatch_id", uuid.NewString())
	logger.Info("dispatching", "backends", len(c.backends))

	outcomes := c.fanOut(ctx, logger, "dispatch", func(ctx context.Context, backend Backend) (string, error) {
		if err := backend.EnsureAuthenticated(ctx); err != nil {
			return "", err
		}
		return backend.Submit(ctx, command)
	})
	for _, outcome := range outcomes {
		result := "success"
		if !outcome.Success {
			result = "failure"
		}
		c.metrics.Outcome(outcome.Backend, result, outcome.Duration)
	}
	return outcomes
}

// Check ensures a session on every backend without submitting anything.
func (c *Coordinator) Check(ctx context.Context) []Outcome {
	logger := c.logger.With("dispatch_id", uuid.NewString())
	return c.fanOut(ctx, logger, "check", func(ctx context.Context, backend Backend) (string, error) {
		if err := backend.EnsureAuthenticated(ctx); err != nil {
			return "", err
		}
		return "session valid", nil
	})
}

// Reset discards the saved session of every backend that has one.
func (c *Coordinator) Reset(ctx context.Context) []Outcome {
	logger := c.logger.With("dispatch_id", uuid.NewString())
	return c.fanOut(ctx, logger, "reset", func(ctx context.Context, backend Backend) (string, error) {
		r, ok := backend.(resetter)
		if !ok {
			return "nothing to reset", nil
		}
		if err := r.Reset(ctx); err != nil {
			return "", err
		}
		return "session discarded", nil
	})
}

// Close releases resources the coordinator was built with.
func (c *Coordinator) Close() error {
	var firstErr error
	for _, closer := range c.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

type operation func(ctx context.Context, backend Backend) (string, error)

func (c *Coordinator) fanOut(ctx context.Context, logger *slog.Logger, op string, run operation) []Outcome {
	outcomes := make([]Outcome, len(c.backends))

	var wg sync.WaitGroup
	for index, backend := range c.backends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[index] = c.runOne(ctx, logger.With("backend", backend.Name()), op, backend, run)
		}()
	}
	wg.Wait()

	return outcomes
}

func (c *Coordinator) runOne(ctx context.Context, logger *slog.Logger, op string, backend Backend, run operation) (outcome Outcome) {
	start := c.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("backend panicked", "op", op, "panic", r, "stack", string(debug.Stack()))
			outcome = failure(backend.Name(), fmt.Errorf("internal error: %v", r), c.clock.Since(start))
		}
	}()

	detail, err := run(ctx, backend)
	elapsed := c.clock.Since(start)
	if err != nil {
		outcome = failure(backend.Name(), err, elapsed)
		logger.Warn(op+" failed", "detail", outcome.Detail, "error", err, "elapsed", elapsed)
		return outcome
	}

	logger.Info(op+" succeeded", "detail", detail, "elapsed", elapsed)
	return Outcome{
		Backend:  backend.Name(),
		Success:  true,
		Detail:   detail,
		Duration: elapsed,
	}
}
