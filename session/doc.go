// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the authenticated state of each WebUI backend.
//
// A [Manager] holds one backend's session in memory and keeps it in one
// of three states: unknown (nothing verified yet this process), valid
// (the last probe or login succeeded), or invalid (the daemon refused
// the session or the credentials). [Manager.EnsureAuthenticated] moves
// to valid by probing the held session, or by logging in when there is
// none, the probe fails, or the state is invalid. [Manager.Submit] uses
// whatever session is held and never logs in: an auth failure at
// submit time marks the session invalid and is returned to the caller,
// so the next dispatch is the one that logs in again.
//
// A [Cache] persists one backend's session to one file so that a
// restarted process skips the login. The file is a CBOR envelope
// carrying a BLAKE3 digest of the session, optionally sealed with age.
// Loading never fails a dispatch: a missing, unreadable, or corrupt
// file is reported as a [*CacheError] and the manager proceeds as if no
// session had been saved. Deleting a session file is always safe.
//
// Every state transition of one Manager is serialized, so concurrent
// dispatches to the same backend never race two logins or two file
// writes. Different backends share nothing.
package session
