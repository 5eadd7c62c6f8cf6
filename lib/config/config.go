// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the backend inventory: which WebUI daemons exist,
// how to reach them, which credentials to log in with, and where each
// one's session file lives.
//
// Configuration comes from exactly one file, named by the --config flag
// or the MAGNET_DISPATCH_CONFIG environment variable. There is no
// discovery and no environment override of individual values; the only
// expansion is ${VAR} and ${VAR:-default} in paths. Passwords never
// appear in the file itself: each backend names a password_file or a
// password_env, and the value is read into a [secret.Buffer] at load.
//
// YAML is the primary format. Files ending in .json or .jsonc are run
// through tidwall/jsonc (comments and trailing commas removed) and then
// decoded by the same YAML decoder, which accepts JSON.
//
// The loaded Config is read-only for the life of the process. Close
// releases the password buffers.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/prithivirajasingh/public-files/lib/secret"
)

// EnvConfigPath names the environment variable Load reads.
const EnvConfigPath = "MAGNET_DISPATCH_CONFIG"

var (
	// ErrNotConfigured means no configuration file was named.
	ErrNotConfigured = errors.New(EnvConfigPath + " environment variable not set")

	// ErrInvalid wraps every decoding and validation failure: the file
	// was read but its contents are wrong.
	ErrInvalid = errors.New("invalid configuration")
)

// Defaults applied when the file leaves a value unset.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultProbePath      = "/auth/login"
	DefaultLoginPath      = "/auth/login"
	DefaultSubmitPath     = "/torrents/add"
	DefaultSuccessBody    = "Ok."
	DefaultSessionDir     = "${XDG_STATE_HOME:-${HOME}/.local/state}/magnet-dispatch"
	sessionFileExtension  = ".session"
)

// Config is the process-wide backend inventory.
type Config struct {
	// SessionDir is where relative session_file paths resolve.
	SessionDir string `yaml:"session_dir"`

	// SessionKeyFile, when set, names an age identity. Session files are
	// then sealed to it on save and opened with it on load.
	SessionKeyFile string `yaml:"session_key_file"`

	// RequestTimeout is the per-request bound inherited by backends that
	// do not set their own.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Backends are dispatched to in this order.
	Backends []Backend `yaml:"backends"`
}

// Backend describes one WebUI daemon.
type Backend struct {
	// Name identifies the backend in outcomes, logs, and metric labels.
	// It is also the default session file name.
	Name string `yaml:"name"`

	// BaseURL is the API root, including the version prefix
	// (e.g., "http://rpi.example.com:8080/api/v2").
	BaseURL string `yaml:"base_url"`

	Username string `yaml:"username"`

	// PasswordFile and PasswordEnv are mutually exclusive; exactly one
	// is required. PasswordFile may be "-" to read stdin.
	PasswordFile string `yaml:"password_file"`
	PasswordEnv  string `yaml:"password_env"`

	// SessionFile is the persisted cookie file for this backend.
	// Relative paths resolve against Config.SessionDir.
	SessionFile string `yaml:"session_file"`

	// InsecureSkipVerify disables TLS certificate and hostname
	// verification for this backend. Off by default. Turn it on only for
	// a self-hosted daemon on a private network serving a self-signed
	// certificate; every client built with it logs a warning.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// RequestTimeout bounds every HTTP request to this backend.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// LoginInterval and LoginBurst throttle logins with a token bucket:
	// LoginBurst attempts, refilled one per LoginInterval. Zero interval
	// disables throttling.
	LoginInterval time.Duration `yaml:"login_interval"`
	LoginBurst    int           `yaml:"login_burst"`

	Endpoints Endpoints `yaml:"endpoints"`

	// Password is filled by Load from PasswordFile or PasswordEnv.
	Password *secret.Buffer `yaml:"-"`
}

// Endpoints overrides the WebUI API paths and the success marker. The
// defaults match qBittorrent's API v2.
type Endpoints struct {
	Probe       string `yaml:"probe"`
	Login       string `yaml:"login"`
	Submit      string `yaml:"submit"`
	SuccessBody string `yaml:"success_body"`
}

// Default returns a Config with every top-level default set and no
// backends.
func Default() *Config {
	return &Config{
		SessionDir:     DefaultSessionDir,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Load reads the file named by MAGNET_DISPATCH_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		return nil, fmt.Errorf("%w; set it to the path of your configuration file, or use --config", ErrNotConfigured)
	}
	return LoadFile(path)
}

// LoadFile reads, validates, and resolves the configuration at path,
// including reading every backend password. On error nothing is left
// allocated.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := Parse(data, formatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	if err := cfg.readPasswords(); err != nil {
		cfg.Close()
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Format is the syntax of a configuration file.
type Format int

const (
	FormatYAML Format = iota
	FormatJSONC
)

func formatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSONC
	default:
		return FormatYAML
	}
}

// Parse decodes, defaults, expands, and validates configuration data
// without reading passwords. Unknown keys are errors so that a typo in
// insecure_skip_verify cannot silently fall back to the default.
func Parse(data []byte, format Format) (*Config, error) {
	if format == FormatJSONC {
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: decoding: %w", ErrInvalid, err)
	}

	cfg.applyDefaults()
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SessionDir == "" {
		c.SessionDir = DefaultSessionDir
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}

	for index := range c.Backends {
		backend := &c.Backends[index]
		backend.BaseURL = strings.TrimRight(backend.BaseURL, "/")
		if backend.RequestTimeout == 0 {
			backend.RequestTimeout = c.RequestTimeout
		}
		if backend.SessionFile == "" {
			backend.SessionFile = backend.Name + sessionFileExtension
		}
		if backend.LoginInterval > 0 && backend.LoginBurst == 0 {
			backend.LoginBurst = 1
		}
		if backend.Endpoints.Probe == "" {
			backend.Endpoints.Probe = DefaultProbePath
		}
		if backend.Endpoints.Login == "" {
			backend.Endpoints.Login = DefaultLoginPath
		}
		if backend.Endpoints.Submit == "" {
			backend.Endpoints.Submit = DefaultSubmitPath
		}
		if backend.Endpoints.SuccessBody == "" {
			backend.Endpoints.SuccessBody = DefaultSuccessBody
		}
	}
}

func (c *Config) expandVariables() {
	c.SessionDir = expandVars(c.SessionDir)
	c.SessionKeyFile = expandVars(c.SessionKeyFile)

	for index := range c.Backends {
		backend := &c.Backends[index]
		backend.PasswordFile = expandVars(backend.PasswordFile)
		backend.SessionFile = expandVars(backend.SessionFile)
		if !filepath.IsAbs(backend.SessionFile) {
			backend.SessionFile = filepath.Join(c.SessionDir, backend.SessionFile)
		}
	}
}

// varPattern matches ${VAR} and ${VAR:-default}. The default may itself
// contain one nested ${VAR}.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^{}]|\$\{[^}]*\})*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if parts[2] != "" {
			return expandVars(parts[2])
		}
		return ""
	})
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Backends) == 0 {
		errs = append(errs, fmt.Errorf("at least one backend is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}

	seenNames := make(map[string]bool)
	seenFiles := make(map[string]string)
	for index, backend := range c.Backends {
		label := fmt.Sprintf("backends[%d]", index)
		if backend.Name != "" {
			label = fmt.Sprintf("backend %q", backend.Name)
		}

		switch {
		case backend.Name == "":
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		case !namePattern.MatchString(backend.Name):
			errs = append(errs, fmt.Errorf("%s: name may contain only letters, digits, '.', '_', and '-'", label))
		case seenNames[backend.Name]:
			errs = append(errs, fmt.Errorf("%s: duplicate name", label))
		}
		seenNames[backend.Name] = true

		if err := validateBaseURL(backend.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
		if backend.Username == "" {
			errs = append(errs, fmt.Errorf("%s: username is required", label))
		}
		if (backend.PasswordFile == "") == (backend.PasswordEnv == "") {
			errs = append(errs, fmt.Errorf("%s: exactly one of password_file or password_env is required", label))
		}
		if backend.RequestTimeout <= 0 {
			errs = append(errs, fmt.Errorf("%s: request_timeout must be positive, got %s", label, backend.RequestTimeout))
		}
		if backend.LoginInterval < 0 || backend.LoginBurst < 0 {
			errs = append(errs, fmt.Errorf("%s: login_interval and login_burst must not be negative", label))
		}
		for _, path := range []string{backend.Endpoints.Probe, backend.Endpoints.Login, backend.Endpoints.Submit} {
			if !strings.HasPrefix(path, "/") {
				errs = append(errs, fmt.Errorf("%s: endpoint %q must start with '/'", label, path))
			}
		}

		// Two managers writing one file would race each other's logins.
		if other, ok := seenFiles[backend.SessionFile]; ok {
			errs = append(errs, fmt.Errorf("%s: session_file %s is already used by backend %q", label, backend.SessionFile, other))
		}
		seenFiles[backend.SessionFile] = backend.Name
	}

	return errors.Join(errs...)
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("base_url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base_url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("base_url %q must use http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base_url %q has no host", raw)
	}
	return nil
}

func (c *Config) readPasswords() error {
	for index := range c.Backends {
		backend := &c.Backends[index]

		var (
			buffer *secret.Buffer
			err    error
		)
		if backend.PasswordFile != "" {
			buffer, err = secret.ReadFromPath(backend.PasswordFile)
		} else {
			buffer, err = secret.ReadFromEnv(backend.PasswordEnv)
		}
		if err != nil {
			return fmt.Errorf("backend %q: reading password: %w", backend.Name, err)
		}
		backend.Password = buffer
	}
	return nil
}

// Backend returns the backend called name.
func (c *Config) Backend(name string) (*Backend, bool) {
	for index := range c.Backends {
		if c.Backends[index].Name == name {
			return &c.Backends[index], true
		}
	}
	return nil, false
}

// Close releases every password buffer. Idempotent.
func (c *Config) Close() error {
	var errs []error
	for index := range c.Backends {
		if c.Backends[index].Password != nil {
			errs = append(errs, c.Backends[index].Password.Close())
		}
	}
	return errors.Join(errs...)
}
