// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prithivirajasingh/public-files/lib/clock"
	"github.com/prithivirajasingh/public-files/lib/logging"
	"github.com/prithivirajasingh/public-files/lib/metrics"
	"github.com/prithivirajasingh/public-files/lib/secret"
	"github.com/prithivirajasingh/public-files/lib/testutil"
	"github.com/prithivirajasingh/public-files/webui"
	"github.com/prithivirajasingh/public-files/webui/webuitest"
)

const (
	testUser     = "admin"
	testPassword = "adminadmin"
	testMagnet   = "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a"
)

type harness struct {
	server  *webuitest.Server
	clock   *clock.FakeClock
	cache   *Cache
	manager *Manager
}

type harnessOption func(*ManagerConfig)

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()

	server := webuitest.New(t, testUser, testPassword)
	fakeClock := clock.Fake(testEpoch)

	client, err := webui.NewClient(webui.ClientConfig{
		Name:    "rvs",
		BaseURL: server.URL(),
		Timeout: 5 * time.Second,
		Clock:   fakeClock,
		Logger:  logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	cache, err := NewCache(CacheConfig{
		Path:    filepath.Join(t.TempDir(), "rvs.session"),
		Backend: "rvs",
		BaseURL: server.URL(),
		Clock:   fakeClock,
	})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	password, err := secret.NewFromString(testPassword)
	if err != nil {
		t.Fatalf("secret.NewFromString: %v", err)
	}
	t.Cleanup(func() { password.Close() })

	config := ManagerConfig{
		Name:     "rvs",
		Client:   client,
		Cache:    cache,
		Username: testUser,
		Password: password,
		Clock:    fakeClock,
		Logger:   logging.Discard(),
		Metrics:  metrics.New(prometheus.NewRegistry()),
	}
	for _, option := range options {
		option(&config)
	}

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &harness{server: server, clock: fakeClock, cache: cache, manager: manager}
}

func (h *harness) fileBytes(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(h.cache.Path())
	if err != nil {
		t.Fatalf("reading session file: %v", err)
	}
	return data
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	if err := h.cache.Save(context.Background(), h.server.IssueSession(testEpoch)); err != nil {
		t.Fatalf("seeding session file: %v", err)
	}
}

func (h *harness) counts() (probes, logins, submits int) {
	return h.server.Probes(), h.server.Logins(), h.server.Submits()
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Error("expected error for empty config")
	}
	h := newHarness(t)
	if _, err := NewManager(ManagerConfig{Name: "x", Client: h.manager.client, Cache: h.cache}); err == nil {
		t.Error("expected error for missing password")
	}
	if h.manager.State() != StateUnknown || h.manager.Name() != "rvs" {
		t.Errorf("new manager: state %s name %q", h.manager.State(), h.manager.Name())
	}
}

func TestCacheAbsent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.manager.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}
	if probes, logins, _ := h.counts(); probes != 0 || logins != 1 {
		t.Errorf("probes=%d logins=%d, want 0/1", probes, logins)
	}
	if h.manager.State() != StateValid {
		t.Errorf("state = %s, want valid", h.manager.State())
	}

	saved, err := h.cache.Load(ctx)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if saved.Cookies[0].Name != webuitest.CookieName {
		t.Errorf("persisted cookie %+v", saved.Cookies[0])
	}

	detail, err := h.manager.Submit(ctx, testMagnet)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if detail != "added to rvs" {
		t.Errorf("detail = %q", detail)
	}
}

func TestCacheValid(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	before := h.fileBytes(t)
	ctx := context.Background()

	if err := h.manager.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}
	if _, err := h.manager.Submit(ctx, testMagnet); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	probes, logins, submits := h.counts()
	if probes != 1 || logins != 0 || submits != 1 {
		t.Errorf("probes=%d logins=%d submits=%d, want 1/0/1", probes, logins, submits)
	}
	if !bytes.Equal(before, h.fileBytes(t)) {
		t.Error("session file rewritten although the saved session was valid")
	}
}

func TestSessionExpiredMidLife(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	h.server.ExpireSessions()
	before := h.fileBytes(t)
	ctx := context.Background()

	if err := h.manager.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}
	if _, err := h.manager.Submit(ctx, testMagnet); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if probes, logins, _ := h.counts(); probes != 1 || logins != 1 {
		t.Errorf("probes=%d logins=%d, want 1/1", probes, logins)
	}
	if bytes.Equal(before, h.fileBytes(t)) {
		t.Error("session file not overwritten after re-login")
	}
	if got := h.server.Submitted(); len(got) != 1 || got[0] != testMagnet {
		t.Errorf("Submitted = %v", got)
	}
}

func TestBadCredentials(t *testing.T) {
	h := newHarness(t)
	h.server.SetMode(webuitest.BadCredentials)

	err := h.manager.EnsureAuthenticated(context.Background())
	if !webui.IsAuth(err) || !IsAuthFailure(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	var webuiErr *webui.Error
	if !errors.As(err, &webuiErr) || webuiErr.Detail() != "Fails." {
		t.Errorf("detail should be the backend body, got %v", err)
	}
	if h.manager.State() != StateInvalid {
		t.Errorf("state = %s, want invalid", h.manager.State())
	}
	if _, statErr := os.Stat(h.cache.Path()); !os.IsNotExist(statErr) {
		t.Error("failed login wrote a session file")
	}

	if _, err := h.manager.Submit(context.Background(), testMagnet); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Submit without session: expected ErrNotAuthenticated, got %v", err)
	}
}

func TestBackendDown(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	h.server.Close()

	err := h.manager.EnsureAuthenticated(context.Background())
	if !webui.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if IsAuthFailure(err) {
		t.Error("transport failure classified as auth")
	}
	if h.manager.State() != StateUnknown {
		t.Errorf("state = %s, want unknown", h.manager.State())
	}
	if h.manager.session == nil {
		t.Error("transport failure discarded the held session")
	}
}

func TestTransportFailureKeepsSessionForNextProbe(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	live := h.manager.client
	unreachable, err := webui.NewClient(webui.ClientConfig{
		Name:    "rvs",
		BaseURL: "http://127.0.0.1:1/api/v2",
		Timeout: 5 * time.Second,
		Clock:   h.clock,
		Logger:  logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	h.manager.client = unreachable
	if err := h.manager.EnsureAuthenticated(ctx); !webui.IsTransport(err) {
		t.Fatalf("expected transport error while unreachable, got %v", err)
	}
	if h.manager.State() == StateInvalid {
		t.Fatal("transport failure marked the session invalid")
	}
	before := h.fileBytes(t)

	h.manager.client = live
	if err := h.manager.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("EnsureAuthenticated after recovery: %v", err)
	}
	if probes, logins, _ := h.counts(); probes != 1 || logins != 0 {
		t.Errorf("probes=%d logins=%d, want 1/0", probes, logins)
	}
	if h.manager.State() != StateValid {
		t.Errorf("state = %s, want valid", h.manager.State())
	}
	if !bytes.Equal(before, h.fileBytes(t)) {
		t.Error("session file rewritten although the saved session was still accepted")
	}
}

func TestTransportFailureAfterRefusalStaysInvalid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.server.SetMode(webuitest.BadCredentials)
	if err := h.manager.EnsureAuthenticated(ctx); !webui.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	h.server.Close()
	if err := h.manager.EnsureAuthenticated(ctx); !webui.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if h.manager.State() != StateInvalid {
		t.Errorf("state = %s, want invalid", h.manager.State())
	}
}

func TestSubmitAuthFailureDoesNotRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.manager.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}
	h.server.ExpireSessions()

	_, err := h.manager.Submit(ctx, testMagnet)
	if !webui.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, logins, submits := h.counts(); logins != 1 || submits != 1 {
		t.Errorf("logins=%d submits=%d, want 1/1 (no in-call retry)", logins, submits)
	}
	if h.manager.State() != StateInvalid {
		t.Errorf("state = %s, want invalid", h.manager.State())
	}

	// The next call logs in straight away without probing the refused
	// session.
	if err := h.manager.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}
	if probes, logins, _ := h.counts(); probes != 0 || logins != 2 {
		t.Errorf("probes=%d logins=%d, want 0/2", probes, logins)
	}
	if _, err := h.manager.Submit(ctx, testMagnet); err != nil {
		t.Fatalf("Submit after re-login: %v", err)
	}
}

func TestCorruptCacheFile(t *testing.T) {
	h := newHarness(t)
	if err := os.WriteFile(h.cache.Path(), []byte("\x00\x01garbage"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := h.manager.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("corrupt file must not fail authentication: %v", err)
	}
	if probes, logins, _ := h.counts(); probes != 0 || logins != 1 {
		t.Errorf("probes=%d logins=%d, want 0/1", probes, logins)
	}
	if _, err := h.cache.Load(context.Background()); err != nil {
		t.Errorf("corrupt file not replaced: %v", err)
	}
}

func TestLocallyExpiredCookieSkipsProbe(t *testing.T) {
	h := newHarness(t)
	session := h.server.IssueSession(testEpoch)
	session.Cookies[0].Expires = testEpoch.Add(time.Hour).Unix()
	if err := h.cache.Save(context.Background(), session); err != nil {
		t.Fatalf("Save: %v", err)
	}
	h.clock.Advance(2 * time.Hour)

	if err := h.manager.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}
	if probes, logins, _ := h.counts(); probes != 0 || logins != 1 {
		t.Errorf("probes=%d logins=%d, want 0/1", probes, logins)
	}
}

func TestSaveFailureKeepsSession(t *testing.T) {
	h := newHarness(t)

	blocker := filepath.Join(t.TempDir(), "not-a-directory")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cache, err := NewCache(CacheConfig{
		Path:    filepath.Join(blocker, "rvs.session"),
		Backend: "rvs",
		BaseURL: h.server.URL(),
	})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	h.manager.cache = cache

	ctx := context.Background()
	if err := h.manager.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("save failure must not fail authentication: %v", err)
	}
	if h.manager.State() != StateValid {
		t.Errorf("state = %s, want valid", h.manager.State())
	}
	if _, err := h.manager.Submit(ctx, testMagnet); err != nil {
		t.Fatalf("Submit with unsaved session: %v", err)
	}
}

func TestLoginThrottle(t *testing.T) {
	h := newHarness(t, func(config *ManagerConfig) {
		config.LoginInterval = time.Minute
		config.LoginBurst = 1
	})
	h.server.SetMode(webuitest.BadCredentials)
	ctx := context.Background()

	if err := h.manager.EnsureAuthenticated(ctx); !webui.IsAuth(err) {
		t.Fatalf("first attempt: expected auth error, got %v", err)
	}
	err := h.manager.EnsureAuthenticated(ctx)
	if !errors.Is(err, ErrLoginThrottled) || !IsAuthFailure(err) {
		t.Fatalf("second attempt: expected ErrLoginThrottled, got %v", err)
	}
	if logins := h.server.Logins(); logins != 1 {
		t.Errorf("throttled attempt reached the backend: logins=%d", logins)
	}

	h.clock.Advance(time.Minute)
	h.server.SetMode(webuitest.Healthy)
	if err := h.manager.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("after refill: %v", err)
	}
	if logins := h.server.Logins(); logins != 2 {
		t.Errorf("logins = %d, want 2", logins)
	}
}

func TestConcurrentEnsureLogsInOnce(t *testing.T) {
	h := newHarness(t)
	const callers = 8

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for index := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[index] = h.manager.EnsureAuthenticated(context.Background())
		}()
	}
	wg.Wait()

	for index, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", index, err)
		}
	}
	if probes, logins, _ := h.counts(); logins != 1 || probes != callers-1 {
		t.Errorf("probes=%d logins=%d, want %d/1", probes, logins, callers-1)
	}
}

func TestLockWaitHonoursCancellation(t *testing.T) {
	h := newHarness(t)

	h.manager.lock <- struct{}{}
	defer h.manager.release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.manager.EnsureAuthenticated(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, err := h.manager.Submit(ctx, testMagnet); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLockWaiterProceedsAfterRelease(t *testing.T) {
	h := newHarness(t)

	h.manager.lock <- struct{}{}
	done := make(chan error, 1)
	go func() {
		done <- h.manager.EnsureAuthenticated(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("EnsureAuthenticated returned while the lock was held: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	h.manager.release()

	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for %s login", h.manager.Name()); err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}
	if h.manager.State() != StateValid {
		t.Errorf("state = %s, want valid", h.manager.State())
	}
}

func TestCancelledLoginLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.server.SetDelay(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.manager.EnsureAuthenticated(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if h.manager.State() != StateUnknown {
		t.Errorf("state = %s, want unknown", h.manager.State())
	}
	if h.manager.session != nil {
		t.Error("cancelled login committed a session")
	}
	if _, statErr := os.Stat(h.cache.Path()); !os.IsNotExist(statErr) {
		t.Error("cancelled login wrote a session file")
	}

	h.server.SetDelay(0)
	if err := h.manager.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("EnsureAuthenticated after cancellation: %v", err)
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.manager.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}
	if err := h.manager.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if h.manager.State() != StateUnknown {
		t.Errorf("state = %s, want unknown", h.manager.State())
	}
	if _, err := os.Stat(h.cache.Path()); !os.IsNotExist(err) {
		t.Error("Reset left the session file")
	}
	if _, err := h.manager.Submit(ctx, testMagnet); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Submit after Reset: expected ErrNotAuthenticated, got %v", err)
	}
}

// stubClient lets a test interleave calls with a submit in flight.
type stubClient struct {
	onSubmit func()
	submitErr error
	logins    int
}

func (s *stubClient) Probe(context.Context, *webui.Session) error {
	return nil
}

func (s *stubClient) Login(context.Context, string, *secret.Buffer) (*webui.Session, error) {
	s.logins++
	return &webui.Session{
		Cookies:    []webui.Cookie{{Name: "SID", Value: "stub"}},
		ObtainedAt: testEpoch,
	}, nil
}

func (s *stubClient) Submit(context.Context, *webui.Session, string) (string, error) {
	if s.onSubmit != nil {
		s.onSubmit()
	}
	return "", s.submitErr
}

func TestSubmitAuthFailureAfterNewerLogin(t *testing.T) {
	h := newHarness(t)
	stub := &stubClient{
		submitErr: &webui.Error{Kind: webui.KindAuth, Op: "submit", Backend: "rvs", StatusCode: 403},
	}
	h.manager.client = stub
	ctx := context.Background()

	if err := h.manager.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}

	// While the submit is in flight another caller resets and logs in
	// again. The stale refusal must not invalidate the newer session.
	stub.onSubmit = func() {
		if err := h.manager.Reset(ctx); err != nil {
			t.Errorf("Reset: %v", err)
		}
		if err := h.manager.EnsureAuthenticated(ctx); err != nil {
			t.Errorf("EnsureAuthenticated: %v", err)
		}
	}
	if _, err := h.manager.Submit(ctx, testMagnet); !webui.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if stub.logins != 2 {
		t.Errorf("logins = %d, want 2", stub.logins)
	}
	if h.manager.State() != StateValid {
		t.Errorf("state = %s, want valid (newer login wins)", h.manager.State())
	}
}
