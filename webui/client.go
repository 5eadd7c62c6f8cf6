// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package webui

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prithivirajasingh/public-files/lib/clock"
	"github.com/prithivirajasingh/public-files/lib/netutil"
	"github.com/prithivirajasingh/public-files/lib/secret"
	"github.com/prithivirajasingh/public-files/lib/version"
)

// Default qBittorrent WebUI API v2 paths, relative to a base URL that
// already includes /api/v2.
const (
	DefaultProbePath   = "/auth/login"
	DefaultLoginPath   = "/auth/login"
	DefaultSubmitPath  = "/torrents/add"
	DefaultSuccessBody = "Ok."
	DefaultTimeout     = 10 * time.Second
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// Name is the backend name carried in errors and log lines.
	Name string

	// BaseURL is the API root (e.g., "http://rpi.example.com:8080/api/v2").
	BaseURL string

	// ProbePath, LoginPath, SubmitPath, and SuccessBody default to the
	// qBittorrent values above.
	ProbePath   string
	LoginPath   string
	SubmitPath  string
	SuccessBody string

	// Timeout bounds every request, independent of the caller's context.
	// Zero means DefaultTimeout.
	Timeout time.Duration

	// InsecureSkipVerify turns off TLS verification for this backend.
	InsecureSkipVerify bool

	// HTTPClient replaces the client built from Timeout and
	// InsecureSkipVerify. Tests use it to talk to httptest servers.
	HTTPClient *http.Client

	// Clock stamps Session.ObtainedAt. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client speaks the three WebUI calls for one backend. It holds no
// session: every call takes the session to present, so the caller
// decides which session is current.
type Client struct {
	name        string
	baseURL     string
	origin      string
	probePath   string
	loginPath   string
	submitPath  string
	successBody string
	httpClient  *http.Client
	clock       clock.Clock
	logger      *slog.Logger
}

// NewClient creates a Client for one backend.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("webui: Name is required")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("webui: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("webui: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	origin, err := netutil.Origin(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("webui: invalid BaseURL: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", config.Name)

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout < 0 {
		return nil, fmt.Errorf("webui: Timeout must be positive, got %s", timeout)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if config.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit per-backend opt-in
			logger.Warn("TLS certificate verification disabled for backend",
				"base_url", config.BaseURL,
			)
		}
		httpClient = &http.Client{
			Transport: transport,
			Timeout:   timeout,
			// Redirects are answers, not something to follow: a reverse
			// proxy bouncing to a login page is a failed call.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Client{
		name:        config.Name,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		origin:      origin,
		probePath:   withDefault(config.ProbePath, DefaultProbePath),
		loginPath:   withDefault(config.LoginPath, DefaultLoginPath),
		submitPath:  withDefault(config.SubmitPath, DefaultSubmitPath),
		successBody: withDefault(config.SuccessBody, DefaultSuccessBody),
		httpClient:  httpClient,
		clock:       clk,
		logger:      logger,
	}, nil
}

func withDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Name returns the backend name.
func (c *Client) Name() string {
	return c.name
}

// CloseIdleConnections drops pooled connections to the backend.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Probe asks the daemon whether session is still accepted. A nil return
// means the daemon answered with the success marker. Any other answer is
// a KindAuth error; no answer is KindTransport.
func (c *Client) Probe(ctx context.Context, session *Session) error {
	status, body, err := c.doRequest(ctx, "probe", http.MethodGet, c.probePath, session, nil)
	if err != nil {
		return err
	}
	if !c.succeeded(status, body) {
		return c.failure(KindAuth, "probe", status, body)
	}
	return nil
}

// Login posts credentials and returns the new session. The password is
// converted to a string only for the form encoding. A success marker
// without any cookie is a KindAuth failure: there is nothing to present
// on the next call.
func (c *Client) Login(ctx context.Context, username string, password *secret.Buffer) (*Session, error) {
	if password == nil {
		return nil, fmt.Errorf("webui: password is required for login")
	}

	form := url.Values{
		"username": {username},
		"password": {password.String()},
	}

	var session *Session
	status, body, err := c.doRequest(ctx, "login", http.MethodPost, c.loginPath, nil, form, func(response *http.Response) {
		session = sessionFromResponse(response, c.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	if !c.succeeded(status, body) {
		return nil, c.failure(KindAuth, "login", status, body)
	}
	if session.Empty() {
		c.logger.Warn("login succeeded without setting a session cookie")
		return nil, &Error{Kind: KindAuth, Op: "login", Backend: c.name, StatusCode: status, Body: "login response set no session cookie"}
	}
	return session, nil
}

// Submit posts command as the urls field of the add form. On success
// the returned detail is "added to <name>". 401 and 403 are KindAuth;
// every other non-success answer is KindRejected with the body as
// detail.
func (c *Client) Submit(ctx context.Context, session *Session, command string) (string, error) {
	form := url.Values{"urls": {command}}

	status, body, err := c.doRequest(ctx, "submit", http.MethodPost, c.submitPath, session, form)
	if err != nil {
		return "", err
	}
	if c.succeeded(status, body) {
		return fmt.Sprintf("added to %s", c.name), nil
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", c.failure(KindAuth, "submit", status, body)
	}
	return "", c.failure(KindRejected, "submit", status, body)
}

// succeeded is the one success test for every call: exactly 200 with
// exactly the marker body. Any other 2xx is not success.
func (c *Client) succeeded(status int, body []byte) bool {
	return status == http.StatusOK && string(body) == c.successBody
}

func (c *Client) failure(kind Kind, op string, status int, body []byte) *Error {
	return &Error{
		Kind:       kind,
		Op:         op,
		Backend:    c.name,
		StatusCode: status,
		Body:       netutil.Truncate(strings.TrimSpace(string(body)), MaxDetailLength),
	}
}

// doRequest performs one call and returns the status and bounded body.
// Only transport failures return an error here; status interpretation
// belongs to the caller. inspect, if given, sees the response before the
// body is closed.
func (c *Client) doRequest(ctx context.Context, op, method, path string, session *Session, form url.Values, inspect ...func(*http.Response)) (int, []byte, error) {
	requestURL := c.baseURL + path

	var bodyReader io.Reader
	if form != nil {
		bodyReader = strings.NewReader(form.Encode())
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("webui: failed to create %s request: %w", op, err)
	}
	if form != nil {
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	// qBittorrent rejects state-changing calls whose Referer or Origin
	// does not match its own host.
	request.Header.Set("Referer", c.origin)
	request.Header.Set("User-Agent", version.UserAgent())
	session.apply(request)

	start := c.clock.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Debug("webui request failed",
			"op", op,
			"reason", netutil.TransportReason(err),
			"error", err,
		)
		return 0, nil, &Error{Kind: KindTransport, Op: op, Backend: c.name, Err: err}
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return 0, nil, &Error{Kind: KindTransport, Op: op, Backend: c.name, Err: fmt.Errorf("reading response: %w", err)}
	}

	for _, fn := range inspect {
		fn(response)
	}

	c.logger.Debug("webui request",
		"op", op,
		"status", response.StatusCode,
		"elapsed", c.clock.Since(start),
	)
	return response.StatusCode, body, nil
}
