// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package webuitest runs an in-process qBittorrent WebUI stand-in for
// tests. It implements the three calls the dispatcher makes, counts
// them, and can be switched between the failure modes a real daemon
// exhibits.
package webuitest

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prithivirajasingh/public-files/webui"
)

// Mode selects how the server answers.
type Mode int

const (
	// Healthy accepts the configured credentials and every submit.
	Healthy Mode = iota

	// BadCredentials fails every login with "Fails.", as qBittorrent
	// does for a wrong password.
	BadCredentials

	// Rejecting fails every authenticated submit with 415 "Fails.", as
	// qBittorrent does for a link it cannot parse.
	Rejecting
)

// CookieName is the session cookie qBittorrent sets.
const CookieName = "SID"

// Server is a fake WebUI daemon. The zero value is not usable; call New.
type Server struct {
	server   *httptest.Server
	username string
	password string

	mu        sync.Mutex
	mode      Mode
	delay     time.Duration
	sessions  map[string]bool
	nextSID   int
	probes    int
	logins    int
	submits   int
	submitted []string
	referers  []string
	open      int
}

// New starts a server that accepts username and password. It is closed
// when the test ends.
func New(t testing.TB, username, password string) *Server {
	t.Helper()

	s := &Server{
		username: username,
		password: password,
		sessions: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/auth/login", s.handleProbe)
	mux.HandleFunc("POST /api/v2/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/v2/torrents/add", s.handleAdd)

	s.server = httptest.NewUnstartedServer(mux)
	s.server.Config.ConnState = s.trackConnection
	s.server.Start()
	t.Cleanup(s.server.Close)
	return s
}

// URL returns the API base URL, including /api/v2.
func (s *Server) URL() string {
	return s.server.URL + "/api/v2"
}

// Origin returns the scheme://host a login Referer must carry.
func (s *Server) Origin() string {
	return s.server.URL
}

// Close shuts the server down. Calls made afterwards fail with a
// transport error, which is how tests take a backend offline.
func (s *Server) Close() {
	s.server.Close()
}

// SetMode switches the failure mode.
func (s *Server) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// SetDelay makes every handler wait before answering. The wait ends
// early if the client goes away.
func (s *Server) SetDelay(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = delay
}

// ExpireSessions forgets every issued session cookie, the way a daemon
// restart or session timeout does.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]bool)
}

// OpenConnections returns the number of client connections the server
// currently holds open, idle ones included.
func (s *Server) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Server) trackConnection(_ net.Conn, state http.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch state {
	case http.StateNew:
		s.open++
	case http.StateClosed, http.StateHijacked:
		s.open--
	}
}

// IssueSession creates a session the server accepts without a login
// call, for seeding session files.
func (s *Server) IssueSession(obtainedAt time.Time) *webui.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &webui.Session{
		Cookies:    []webui.Cookie{{Name: CookieName, Value: s.issueLocked(), Path: "/", HTTPOnly: true}},
		ObtainedAt: obtainedAt,
	}
}

// Probes returns the number of probe calls received.
func (s *Server) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

// Logins returns the number of login calls received.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Submits returns the number of submit calls received.
func (s *Server) Submits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

// Submitted returns the urls values of accepted submits, in order.
func (s *Server) Submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.submitted...)
}

// LoginReferers returns the Referer header of every login call.
func (s *Server) LoginReferers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.referers...)
}

func (s *Server) issueLocked() string {
	s.nextSID++
	sid := fmt.Sprintf("sid-%04d", s.nextSID)
	s.sessions[sid] = true
	return sid
}

func (s *Server) authenticatedLocked(request *http.Request) bool {
	cookie, err := request.Cookie(CookieName)
	if err != nil {
		return false
	}
	return s.sessions[cookie.Value]
}

func (s *Server) wait(request *http.Request) {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-request.Context().Done():
	}
}

func reply(writer http.ResponseWriter, status int, body string) {
	writer.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	writer.WriteHeader(status)
	_, _ = writer.Write([]byte(body))
}

func (s *Server) handleProbe(writer http.ResponseWriter, request *http.Request) {
	s.wait(request)

	s.mu.Lock()
	s.probes++
	ok := s.authenticatedLocked(request)
	s.mu.Unlock()

	if !ok {
		reply(writer, http.StatusForbidden, "Forbidden")
		return
	}
	reply(writer, http.StatusOK, "Ok.")
}

func (s *Server) handleLogin(writer http.ResponseWriter, request *http.Request) {
	s.wait(request)

	if err := request.ParseForm(); err != nil {
		reply(writer, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++
	s.referers = append(s.referers, request.Header.Get("Referer"))

	if request.Header.Get("Referer") != s.server.URL {
		reply(writer, http.StatusUnauthorized, "")
		return
	}
	if s.mode == BadCredentials ||
		request.PostForm.Get("username") != s.username ||
		request.PostForm.Get("password") != s.password {
		reply(writer, http.StatusOK, "Fails.")
		return
	}

	http.SetCookie(writer, &http.Cookie{
		Name:     CookieName,
		Value:    s.issueLocked(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	reply(writer, http.StatusOK, "Ok.")
}

func (s *Server) handleAdd(writer http.ResponseWriter, request *http.Request) {
	s.wait(request)

	if err := request.ParseForm(); err != nil {
		reply(writer, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++

	if !s.authenticatedLocked(request) {
		reply(writer, http.StatusForbidden, "Forbidden")
		return
	}
	if s.mode == Rejecting {
		reply(writer, http.StatusUnsupportedMediaType, "Fails.")
		return
	}
	urls := request.PostForm.Get("urls")
	if urls == "" {
		reply(writer, http.StatusBadRequest, "missing urls")
		return
	}
	s.submitted = append(s.submitted, urls)
	reply(writer, http.StatusOK, "Ok.")
}
