// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds the small HTTP helpers shared by the WebUI
// client and its tests: bounded body reads, detail truncation for
// operator-facing messages, origin derivation for CSRF headers, and
// classification of transport failures.
package netutil

import (
	"fmt"
	"io"
	"net/url"
	"unicode/utf8"
)

// MaxResponseSize bounds every response body read. WebUI replies to
// login, probe, and add are a handful of bytes; a megabyte is room for a
// verbose HTML error page from a reverse proxy in front of the daemon.
const MaxResponseSize int64 = 1 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// Truncate shortens s to at most limit bytes without splitting a UTF-8
// sequence, appending "..." when anything was cut. A non-positive limit
// returns s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Origin returns scheme://host[:port] for rawURL. qBittorrent compares
// the Referer or Origin header of a login against its own host.
func Origin(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}
