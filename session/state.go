// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "fmt"

// State is what a Manager knows about its session.
type State int32

const (
	// StateUnknown: no probe or login has completed this process. A
	// session loaded from disk is held in this state until probed.
	StateUnknown State = iota

	// StateValid: the last probe or login succeeded.
	StateValid

	// StateInvalid: the daemon refused the session or the credentials.
	// The next EnsureAuthenticated logs in without probing.
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
