// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/prithivirajasingh/public-files/lib/netutil"
	"github.com/prithivirajasingh/public-files/session"
	"github.com/prithivirajasingh/public-files/webui"
)

// Outcome is the result of one dispatch to one backend. Outcomes are
// created once and never modified.
type Outcome struct {
	// Backend is the configured backend name.
	Backend string

	Success bool

	// Detail is the operator-facing text: the daemon's acknowledgement
	// on success, its response body on rejection or refused login, or a
	// short description of a transport failure.
	Detail string

	// Err is the typed cause of a failure; nil on success.
	Err error

	Duration time.Duration
}

// String renders "name: detail", one line per backend for plain-text
// front-ends.
func (o Outcome) String() string {
	return o.Backend + ": " + o.Detail
}

// Failed reports whether any outcome failed.
func Failed(outcomes []Outcome) bool {
	for _, outcome := range outcomes {
		if !outcome.Success {
			return true
		}
	}
	return false
}

func failure(backend string, err error, elapsed time.Duration) Outcome {
	return Outcome{
		Backend:  backend,
		Detail:   detailFor(err),
		Err:      err,
		Duration: elapsed,
	}
}

func detailFor(err error) string {
	var webuiErr *webui.Error
	switch {
	case errors.As(err, &webuiErr):
		return webuiErr.Detail()
	case errors.Is(err, session.ErrLoginThrottled):
		return "login throttled; try again later"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return netutil.Truncate(err.Error(), webui.MaxDetailLength)
	}
}
