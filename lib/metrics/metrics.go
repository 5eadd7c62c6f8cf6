// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus collectors for the session and
// dispatch layers.
//
// Collectors are registered on a caller-supplied registry rather than
// the global default so that tests can build isolated instances. Every
// method is safe on a nil *Collector, which lets components treat
// metrics as optional without guarding each call site.
//
// The CLI runs once per invocation, so instead of serving /metrics it
// writes the registry to a node_exporter textfile ([WriteTextfile]).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every metric the core emits.
type Collector struct {
	outcomes      *prometheus.CounterVec
	probes        *prometheus.CounterVec
	logins        *prometheus.CounterVec
	cacheEvents   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	sessionStates *prometheus.GaugeVec
}

// New creates the collectors and registers them on registerer.
func New(registerer prometheus.Registerer) *Collector {
	collector := &Collector{
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magnet_dispatch_outcomes_total",
				Help: "Dispatch outcomes by backend and result",
			},
			[]string{"backend", "result"},
		),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magnet_session_probes_total",
				Help: "Session probes by backend and result (valid, invalid, error)",
			},
			[]string{"backend", "result"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magnet_session_logins_total",
				Help: "Login attempts by backend and result (success, failed, throttled)",
			},
			[]string{"backend", "result"},
		),
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magnet_session_cache_events_total",
				Help: "Session file events by backend (hit, miss, corrupt, saved, save_failed, removed)",
			},
			[]string{"backend", "event"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "magnet_dispatch_duration_seconds",
				Help:    "Time to authenticate and submit to one backend",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend"},
		),
		sessionStates: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "magnet_session_state",
				Help: "Current session state per backend (0=unknown, 1=valid, 2=invalid)",
			},
			[]string{"backend"},
		),
	}

	registerer.MustRegister(
		collector.outcomes,
		collector.probes,
		collector.logins,
		collector.cacheEvents,
		collector.duration,
		collector.sessionStates,
	)
	return collector
}

// Outcome counts one dispatch result for backend.
func (c *Collector) Outcome(backend, result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(backend, result).Inc()
	c.duration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// Probe counts one session probe.
func (c *Collector) Probe(backend, result string) {
	if c == nil {
		return
	}
	c.probes.WithLabelValues(backend, result).Inc()
}

// Login counts one login attempt.
func (c *Collector) Login(backend, result string) {
	if c == nil {
		return
	}
	c.logins.WithLabelValues(backend, result).Inc()
}

// CacheEvent counts a session cache hit, miss, corrupt load, save, or
// save failure.
func (c *Collector) CacheEvent(backend, event string) {
	if c == nil {
		return
	}
	c.cacheEvents.WithLabelValues(backend, event).Inc()
}

// SessionState records the numeric state of backend's session.
func (c *Collector) SessionState(backend string, state int) {
	if c == nil {
		return
	}
	c.sessionStates.WithLabelValues(backend).Set(float64(state))
}

// WriteTextfile writes everything gathered from gatherer to path in the
// text exposition format. The write goes through a temp file and rename
// so node_exporter never reads a partial file.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, gatherer)
}
