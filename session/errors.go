// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

// ErrLoginThrottled is returned when a login would exceed the backend's
// configured login rate. qBittorrent bans a client IP after repeated
// failed logins, so a misconfigured password must not hammer it.
var ErrLoginThrottled = errors.New("session: login throttled")

// ErrNotAuthenticated is returned by Submit when no session is held.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// CacheErrorKind distinguishes an absent session file from a damaged one.
type CacheErrorKind int

const (
	// CacheMissing means no session file exists.
	CacheMissing CacheErrorKind = iota + 1

	// CacheCorrupt means a file exists but could not be used: unreadable,
	// undecryptable, undecodable, wrong version, bad digest, or saved for
	// a different backend.
	CacheCorrupt
)

func (k CacheErrorKind) String() string {
	switch k {
	case CacheMissing:
		return "missing"
	case CacheCorrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("CacheErrorKind(%d)", int(k))
	}
}

// CacheError reports why a session file could not be loaded.
type CacheError struct {
	Kind CacheErrorKind
	Path string
	Err  error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("session cache %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// IsCacheMissing reports whether err is a *CacheError of kind CacheMissing.
func IsCacheMissing(err error) bool {
	var cacheErr *CacheError
	return errors.As(err, &cacheErr) && cacheErr.Kind == CacheMissing
}

// IsCacheCorrupt reports whether err is a *CacheError of kind CacheCorrupt.
func IsCacheCorrupt(err error) bool {
	var cacheErr *CacheError
	return errors.As(err, &cacheErr) && cacheErr.Kind == CacheCorrupt
}
