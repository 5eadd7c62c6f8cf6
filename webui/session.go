// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package webui

import (
	"net/http"
	"time"
)

// Cookie is one cookie from a login response, in the shape persisted to
// the session file.
type Cookie struct {
	Name   string `cbor:"name"`
	Value  string `cbor:"value"`
	Path   string `cbor:"path,omitempty"`
	Domain string `cbor:"domain,omitempty"`

	// Expires is unix seconds; zero for a browser-session cookie.
	Expires int64 `cbor:"expires,omitempty"`

	Secure   bool `cbor:"secure,omitempty"`
	HTTPOnly bool `cbor:"http_only,omitempty"`
}

// Session is the authenticated state returned by a successful login.
// A Session is a value: the manager replaces it wholesale after a login
// and never mutates one in place.
type Session struct {
	Cookies    []Cookie  `cbor:"cookies"`
	ObtainedAt time.Time `cbor:"obtained_at"`
}

// Empty reports whether the session carries no cookies.
func (s *Session) Empty() bool {
	return s == nil || len(s.Cookies) == 0
}

// Expired reports whether every cookie with an expiry is past it at
// now. A session whose cookies carry no expiry never expires locally;
// only the daemon can say it is stale.
func (s *Session) Expired(now time.Time) bool {
	if s.Empty() {
		return true
	}
	for _, cookie := range s.Cookies {
		if cookie.Expires == 0 || now.Unix() < cookie.Expires {
			return false
		}
	}
	return true
}

func (s *Session) apply(request *http.Request) {
	if s == nil {
		return
	}
	for _, cookie := range s.Cookies {
		request.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
}

// sessionFromResponse collects the cookies a login response set.
// Cookies the server deleted in the same response (MaxAge < 0) are
// dropped.
func sessionFromResponse(response *http.Response, now time.Time) *Session {
	session := &Session{ObtainedAt: now}
	for _, cookie := range response.Cookies() {
		if cookie.MaxAge < 0 || cookie.Value == "" {
			continue
		}
		stored := Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     cookie.Path,
			Domain:   cookie.Domain,
			Secure:   cookie.Secure,
			HTTPOnly: cookie.HttpOnly,
		}
		switch {
		case cookie.MaxAge > 0:
			stored.Expires = now.Add(time.Duration(cookie.MaxAge) * time.Second).Unix()
		case !cookie.Expires.IsZero():
			stored.Expires = cookie.Expires.Unix()
		}
		session.Cookies = append(session.Cookies, stored)
	}
	return session
}
