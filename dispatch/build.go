// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"log/slog"

	"github.com/prithivirajasingh/public-files/lib/clock"
	"github.com/prithivirajasingh/public-files/lib/config"
	"github.com/prithivirajasingh/public-files/lib/metrics"
	"github.com/prithivirajasingh/public-files/lib/sealed"
	"github.com/prithivirajasingh/public-files/session"
	"github.com/prithivirajasingh/public-files/webui"
)

// Options are the process-wide collaborators shared by every backend.
type Options struct {
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// NewFromConfig builds one client, cache, and session manager per
// configured backend and a Coordinator over them. Passwords stay owned
// by cfg. Close the Coordinator to drop pooled backend connections and
// release the session key, if any.
func NewFromConfig(cfg *config.Config, options Options) (*Coordinator, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var identity *sealed.Identity
	if cfg.SessionKeyFile != "" {
		var err error
		identity, err = sealed.LoadIdentity(cfg.SessionKeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading session key: %w", err)
		}
		logger.Debug("session files sealed", "recipient", identity.Recipient())
	}

	backends := make([]Backend, 0, len(cfg.Backends))
	clients := make([]*webui.Client, 0, len(cfg.Backends))
	for index := range cfg.Backends {
		manager, client, err := newManager(&cfg.Backends[index], identity, options, logger)
		if err != nil {
			if identity != nil {
				identity.Close()
			}
			return nil, err
		}
		backends = append(backends, manager)
		clients = append(clients, client)
	}

	coordinator, err := New(Config{
		Backends: backends,
		Clock:    options.Clock,
		Logger:   logger,
		Metrics:  options.Metrics,
	})
	if err != nil {
		if identity != nil {
			identity.Close()
		}
		return nil, err
	}
	for _, client := range clients {
		coordinator.closers = append(coordinator.closers, func() error {
			client.CloseIdleConnections()
			return nil
		})
	}
	if identity != nil {
		coordinator.closers = append(coordinator.closers, identity.Close)
	}
	return coordinator, nil
}

func newManager(backend *config.Backend, identity *sealed.Identity, options Options, logger *slog.Logger) (*session.Manager, *webui.Client, error) {
	client, err := webui.NewClient(webui.ClientConfig{
		Name:               backend.Name,
		BaseURL:            backend.BaseURL,
		ProbePath:          backend.Endpoints.Probe,
		LoginPath:          backend.Endpoints.Login,
		SubmitPath:         backend.Endpoints.Submit,
		SuccessBody:        backend.Endpoints.SuccessBody,
		Timeout:            backend.RequestTimeout,
		InsecureSkipVerify: backend.InsecureSkipVerify,
		Clock:              options.Clock,
		Logger:             logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("backend %q: %w", backend.Name, err)
	}

	cache, err := session.NewCache(session.CacheConfig{
		Path:     backend.SessionFile,
		Backend:  backend.Name,
		BaseURL:  backend.BaseURL,
		Identity: identity,
		Clock:    options.Clock,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("backend %q: %w", backend.Name, err)
	}

	manager, err := session.NewManager(session.ManagerConfig{
		Name:          backend.Name,
		Client:        client,
		Cache:         cache,
		Username:      backend.Username,
		Password:      backend.Password,
		LoginInterval: backend.LoginInterval,
		LoginBurst:    backend.LoginBurst,
		Clock:         options.Clock,
		Logger:        logger,
		Metrics:       options.Metrics,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("backend %q: %w", backend.Name, err)
	}
	return manager, client, nil
}
