// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/prithivirajasingh/public-files/lib/clock"
	"github.com/prithivirajasingh/public-files/lib/codec"
	"github.com/prithivirajasingh/public-files/lib/sealed"
	"github.com/prithivirajasingh/public-files/lib/secret"
	"github.com/prithivirajasingh/public-files/webui"
)

// cacheFormatVersion is bumped whenever the envelope layout changes.
// Files with any other version are treated as corrupt, which costs one
// login.
const cacheFormatVersion = 1

// sessionDomainKey keys the BLAKE3 digest of the encoded session. ASCII
// domain name, zero-padded to 32 bytes.
var sessionDomainKey = [32]byte{
	'm', 'a', 'g', 'n', 'e', 't', '.', 's', 'e', 's', 's', 'i', 'o', 'n', '.', 'f',
	'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// envelope is the on-disk record. Session holds the CBOR encoding of a
// webui.Session so that Digest covers exact bytes.
type envelope struct {
	Version int       `cbor:"version"`
	Backend string    `cbor:"backend"`
	BaseURL string    `cbor:"base_url"`
	SavedAt time.Time `cbor:"saved_at"`
	Session []byte    `cbor:"session"`
	Digest  []byte    `cbor:"digest"`
}

// CacheConfig holds configuration for creating a Cache.
type CacheConfig struct {
	// Path is the session file. Its directory is created on first save.
	Path string

	// Backend and BaseURL are recorded in the file and checked on load,
	// so a file copied between backends or left over from a changed
	// base_url is discarded rather than replayed.
	Backend string
	BaseURL string

	// Identity, if set, seals every saved file and is required to open
	// one.
	Identity *sealed.Identity

	// Clock stamps SavedAt. If nil, clock.Real() is used.
	Clock clock.Clock
}

// Cache is one backend's session file.
type Cache struct {
	path     string
	backend  string
	baseURL  string
	identity *sealed.Identity
	clock    clock.Clock
}

// NewCache creates a Cache. No file is touched until Load or Save.
func NewCache(config CacheConfig) (*Cache, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("session: cache Path is required")
	}
	if config.Backend == "" {
		return nil, fmt.Errorf("session: cache Backend is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{
		path:     config.Path,
		backend:  config.Backend,
		baseURL:  config.BaseURL,
		identity: config.Identity,
		clock:    clk,
	}, nil
}

// Path returns the session file path.
func (c *Cache) Path() string {
	return c.path
}

// Load reads the saved session. Every failure to produce a usable
// session is a *CacheError; the only other error is ctx's.
func (c *Cache) Load(ctx context.Context) (*webui.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &CacheError{Kind: CacheMissing, Path: c.path, Err: err}
		}
		return nil, c.corrupt(fmt.Errorf("reading: %w", err))
	}
	defer secret.Zero(data)

	plaintext := data
	switch {
	case c.identity != nil:
		if !sealed.IsSealed(data) {
			return nil, c.corrupt(fmt.Errorf("file is not sealed but a session key is configured"))
		}
		plaintext, err = c.identity.Open(data)
		if err != nil {
			return nil, c.corrupt(fmt.Errorf("opening sealed file: %w", err))
		}
		defer secret.Zero(plaintext)
	case sealed.IsSealed(data):
		return nil, c.corrupt(fmt.Errorf("file is sealed but no session key is configured"))
	}

	var record envelope
	if err := codec.Unmarshal(plaintext, &record); err != nil {
		return nil, c.corrupt(fmt.Errorf("decoding envelope: %w", err))
	}
	if record.Version != cacheFormatVersion {
		return nil, c.corrupt(fmt.Errorf("format version %d, want %d", record.Version, cacheFormatVersion))
	}
	if record.Backend != c.backend {
		return nil, c.corrupt(fmt.Errorf("saved for backend %q", record.Backend))
	}
	if record.BaseURL != c.baseURL {
		return nil, c.corrupt(fmt.Errorf("saved for base URL %q", record.BaseURL))
	}
	digest := sessionDigest(record.Session)
	if !bytes.Equal(record.Digest, digest[:]) {
		return nil, c.corrupt(fmt.Errorf("digest mismatch"))
	}

	var session webui.Session
	if err := codec.Unmarshal(record.Session, &session); err != nil {
		return nil, c.corrupt(fmt.Errorf("decoding session: %w", err))
	}
	secret.Zero(record.Session)
	if session.Empty() {
		return nil, c.corrupt(fmt.Errorf("session has no cookies"))
	}
	return &session, nil
}

// Save atomically replaces the session file: the new content is written
// to a temporary file in the same directory and renamed over the old
// one. A reader never sees a partial file.
func (c *Cache) Save(ctx context.Context, session *webui.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session.Empty() {
		return fmt.Errorf("session: refusing to save an empty session")
	}

	encodedSession, err := codec.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	defer secret.Zero(encodedSession)

	digest := sessionDigest(encodedSession)
	data, err := codec.Marshal(envelope{
		Version: cacheFormatVersion,
		Backend: c.backend,
		BaseURL: c.baseURL,
		SavedAt: c.clock.Now(),
		Session: encodedSession,
		Digest:  digest[:],
	})
	if err != nil {
		return fmt.Errorf("encoding session envelope: %w", err)
	}
	defer secret.Zero(data)

	if c.identity != nil {
		sealedData, err := c.identity.Seal(data)
		if err != nil {
			return fmt.Errorf("sealing session: %w", err)
		}
		data = sealedData
	}

	directory := filepath.Dir(c.path)
	if err := os.MkdirAll(directory, 0700); err != nil {
		return fmt.Errorf("creating session directory %s: %w", directory, err)
	}

	tmpFile, err := os.CreateTemp(directory, "."+filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp session file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		return fmt.Errorf("setting session file mode: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing session file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp session file: %w", err)
	}

	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("renaming session file to %s: %w", c.path, err)
	}

	success = true
	return nil
}

// Remove deletes the session file. A missing file is not an error.
func (c *Cache) Remove() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

func (c *Cache) corrupt(err error) *CacheError {
	return &CacheError{Kind: CacheCorrupt, Path: c.path, Err: err}
}

func sessionDigest(encoded []byte) [32]byte {
	hasher, err := blake3.NewKeyed(sessionDomainKey[:])
	if err != nil {
		panic("session: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(encoded)
	var digest [32]byte
	hasher.Sum(digest[:0])
	return digest
}
