// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package webui

import (
	"errors"
	"fmt"

	"github.com/prithivirajasingh/public-files/lib/netutil"
)

// Kind classifies a failed WebUI call. The session manager branches on
// it: auth failures invalidate the session, transport failures are
// surfaced as-is, rejections leave the session alone.
type Kind int

const (
	// KindTransport means no HTTP response arrived: DNS, connect, TLS,
	// timeout, or cancellation.
	KindTransport Kind = iota + 1

	// KindAuth means the daemon answered but refused the credentials or
	// the session cookie.
	KindAuth

	// KindRejected means the daemon answered an authenticated request
	// with something other than the success marker.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindRejected:
		return "rejected"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MaxDetailLength bounds the response body carried in errors and
// outcome details.
const MaxDetailLength = 512

// Error is a failed WebUI call. Callers use errors.As to reach the
// structured fields:
//
//	var webuiErr *webui.Error
//	if errors.As(err, &webuiErr) && webuiErr.Kind == webui.KindAuth { ... }
type Error struct {
	Kind Kind

	// Op is the call that failed: "probe", "login", or "submit".
	Op string

	// Backend is the configured backend name.
	Backend string

	// StatusCode is zero for transport failures.
	StatusCode int

	// Body is the response body, truncated to MaxDetailLength.
	Body string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		reason := netutil.TransportReason(e.Err)
		return fmt.Sprintf("webui: %s %s: %s: %v", e.Backend, e.Op, reason, e.Err)
	case e.Body != "":
		return fmt.Sprintf("webui: %s %s: %s (%d): %s", e.Backend, e.Op, e.Kind, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("webui: %s %s: %s (%d)", e.Backend, e.Op, e.Kind, e.StatusCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail is the operator-facing text for an outcome: the daemon's own
// response body when there is one, otherwise a short description.
func (e *Error) Detail() string {
	if e.Body != "" {
		return e.Body
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s", e.Op, netutil.TransportReason(e.Err))
	}
	return fmt.Sprintf("%s failed: HTTP %d", e.Op, e.StatusCode)
}

// IsAuth reports whether err is a *Error of kind KindAuth.
func IsAuth(err error) bool {
	return isKind(err, KindAuth)
}

// IsTransport reports whether err is a *Error of kind KindTransport.
func IsTransport(err error) bool {
	return isKind(err, KindTransport)
}

// IsRejected reports whether err is a *Error of kind KindRejected.
func IsRejected(err error) bool {
	return isKind(err, KindRejected)
}

func isKind(err error, kind Kind) bool {
	var webuiErr *Error
	if errors.As(err, &webuiErr) {
		return webuiErr.Kind == kind
	}
	return false
}
