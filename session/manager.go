// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/prithivirajasingh/public-files/lib/clock"
	"github.com/prithivirajasingh/public-files/lib/metrics"
	"github.com/prithivirajasingh/public-files/lib/secret"
	"github.com/prithivirajasingh/public-files/webui"
)

// Client is the subset of *webui.Client a Manager drives.
type Client interface {
	Probe(ctx context.Context, session *webui.Session) error
	Login(ctx context.Context, username string, password *secret.Buffer) (*webui.Session, error)
	Submit(ctx context.Context, session *webui.Session, command string) (string, error)
}

// ManagerConfig holds configuration for creating a Manager.
type ManagerConfig struct {
	// Name is the backend name, used in logs, metrics, and errors.
	Name string

	Client Client
	Cache  *Cache

	Username string

	// Password is borrowed; the Manager never closes it.
	Password *secret.Buffer

	// LoginInterval and LoginBurst throttle logins. Zero interval means
	// unthrottled.
	LoginInterval time.Duration
	LoginBurst    int

	// Clock drives the login limiter and local expiry checks. If nil,
	// clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Collector
}

// Manager owns one backend's session.
type Manager struct {
	name     string
	client   Client
	cache    *Cache
	username string
	password *secret.Buffer
	limiter  *rate.Limiter
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Collector

	// lock serializes every transition. It is a one-slot channel so that
	// waiting for it can be abandoned when the caller's context ends.
	lock chan struct{}

	// Guarded by lock.
	loaded     bool
	session    *webui.Session
	generation uint64

	// Written under lock, read without it by State.
	state atomic.Int32
}

// NewManager creates a Manager in StateUnknown. The session file is
// read on first use, not here.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("session: manager Name is required")
	}
	if config.Client == nil {
		return nil, fmt.Errorf("session: manager %s: Client is required", config.Name)
	}
	if config.Cache == nil {
		return nil, fmt.Errorf("session: manager %s: Cache is required", config.Name)
	}
	if config.Password == nil {
		return nil, fmt.Errorf("session: manager %s: Password is required", config.Name)
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if config.LoginInterval > 0 {
		burst := config.LoginBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(config.LoginInterval), burst)
	}

	manager := &Manager{
		name:     config.Name,
		client:   config.Client,
		cache:    config.Cache,
		username: config.Username,
		password: config.Password,
		limiter:  limiter,
		clock:    clk,
		logger:   logger.With("backend", config.Name),
		metrics:  config.Metrics,
		lock:     make(chan struct{}, 1),
	}
	manager.metrics.SessionState(config.Name, int(StateUnknown))
	return manager, nil
}

// Name returns the backend name.
func (m *Manager) Name() string {
	return m.name
}

// State returns the current session state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(state State) {
	previous := State(m.state.Swap(int32(state)))
	if previous != state {
		m.logger.Debug("session state changed", "from", previous, "to", state)
	}
	m.metrics.SessionState(m.name, int(state))
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.lock
}

// EnsureAuthenticated leaves the manager holding a session the daemon
// accepts, or returns why it could not. A held session is probed unless
// the state is invalid or its cookies have expired locally; otherwise,
// or when the probe fails, it logs in once. There is no further retry.
//
// A refused or throttled login returns the *webui.Error (or
// ErrLoginThrottled) and leaves the state invalid. A transport failure
// is returned as-is and keeps the held session for the next probe.
// Cancellation returns ctx's error and leaves both the held session and
// the session file as they were.
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	m.loadLocked(ctx)

	if m.session != nil && m.State() != StateInvalid {
		if m.session.Expired(m.clock.Now()) {
			m.logger.Info("held session cookies expired, logging in")
		} else {
			err := m.client.Probe(ctx, m.session)
			if err == nil {
				m.metrics.Probe(m.name, "valid")
				m.setState(StateValid)
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if webui.IsAuth(err) {
				m.metrics.Probe(m.name, "invalid")
				m.logger.Info("session probe refused, logging in")
			} else {
				m.metrics.Probe(m.name, "error")
				m.logger.Warn("session probe failed, logging in", "error", err)
			}
		}
	}

	return m.loginLocked(ctx)
}

// loadLocked reads the session file the first time the manager is used.
func (m *Manager) loadLocked(ctx context.Context) {
	if m.loaded {
		return
	}

	session, err := m.cache.Load(ctx)
	switch {
	case err == nil:
		m.loaded = true
		m.session = session
		m.metrics.CacheEvent(m.name, "hit")
		m.logger.Debug("loaded saved session",
			"path", m.cache.Path(),
			"obtained_at", session.ObtainedAt,
		)
	case IsCacheMissing(err):
		m.loaded = true
		m.metrics.CacheEvent(m.name, "miss")
		m.logger.Debug("no saved session", "path", m.cache.Path())
	case IsCacheCorrupt(err):
		m.loaded = true
		m.metrics.CacheEvent(m.name, "corrupt")
		m.logger.Warn("discarding unusable session file", "error", err)
	default:
		// Cancelled before reading; try again on the next call.
		m.logger.Debug("session file not loaded", "error", err)
	}
}

func (m *Manager) loginLocked(ctx context.Context) error {
	if m.limiter != nil && !m.limiter.AllowN(m.clock.Now(), 1) {
		m.metrics.Login(m.name, "throttled")
		m.setState(StateInvalid)
		m.logger.Warn("login throttled")
		return fmt.Errorf("%s: %w", m.name, ErrLoginThrottled)
	}

	start := m.clock.Now()
	session, err := m.client.Login(ctx, m.username, m.password)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.metrics.Login(m.name, "failed")
		if !IsAuthFailure(err) {
			// Nothing was learned about the held session; the next call
			// probes it again.
			if m.State() == StateValid {
				m.setState(StateUnknown)
			}
			m.logger.Warn("login failed, backend unreachable", "error", err)
			return err
		}
		m.setState(StateInvalid)
		m.logger.Warn("login refused", "error", err)
		return err
	}

	// The file is written before the in-memory commit. Either both hold
	// the new session or, on cancellation, neither does.
	if err := m.cache.Save(ctx, session); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.metrics.CacheEvent(m.name, "save_failed")
		m.logger.Error("saving session failed, keeping it in memory only",
			"path", m.cache.Path(),
			"error", err,
		)
	} else {
		m.metrics.CacheEvent(m.name, "saved")
	}

	m.loaded = true
	m.session = session
	m.generation++
	m.metrics.Login(m.name, "success")
	m.setState(StateValid)
	m.logger.Info("logged in", "elapsed", m.clock.Since(start))
	return nil
}

// Submit sends command with the held session and returns the daemon's
// detail. It never logs in. When the daemon refuses the session the
// state becomes invalid, unless another call has logged in since this
// one took its snapshot, and the auth error is returned.
func (m *Manager) Submit(ctx context.Context, command string) (string, error) {
	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	session, generation := m.session, m.generation
	m.release()

	if session == nil {
		return "", fmt.Errorf("%s: %w", m.name, ErrNotAuthenticated)
	}

	detail, err := m.client.Submit(ctx, session, command)
	if err != nil {
		if webui.IsAuth(err) {
			// Bookkeeping only; not abandoned on cancellation.
			m.lock <- struct{}{}
			if m.generation == generation {
				m.setState(StateInvalid)
				m.logger.Info("session refused at submit, marked invalid")
			}
			m.release()
		}
		return "", err
	}
	return detail, nil
}

// Reset forgets the held session and deletes the session file. The next
// EnsureAuthenticated logs in.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	m.loaded = true
	m.session = nil
	m.generation++
	m.setState(StateUnknown)

	if err := m.cache.Remove(); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	m.metrics.CacheEvent(m.name, "removed")
	m.logger.Info("session reset", "path", m.cache.Path())
	return nil
}

// IsAuthFailure reports whether err is an authentication-class failure:
// a refused login, a refused session, or a throttled login.
func IsAuthFailure(err error) bool {
	return webui.IsAuth(err) || errors.Is(err, ErrLoginThrottled)
}
