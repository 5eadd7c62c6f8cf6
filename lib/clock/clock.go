// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the wall clock so that session timestamps,
// cookie expiry checks, and login throttling are deterministic in tests.
//
// Production code receives [Real]; tests construct a [FakeClock] and move
// it with Advance.
package clock

import "time"

// Clock is the subset of the time package the session layer needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }
