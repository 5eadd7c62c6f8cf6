// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts session files at rest with age.
//
// A session file holds live WebUI cookies: anyone who can read it can
// drive the backend until the cookie expires. When an operator configures
// an age x25519 identity, the session cache seals each file to that
// identity's own recipient and opens it with the identity on load. The
// identity is read into a [secret.Buffer] and only parsed at the moment
// it is needed.
//
// Ciphertext is the raw binary age format (files, not JSON fields).
package sealed

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/prithivirajasingh/public-files/lib/secret"
)

// header is the first line of every binary age file.
const header = "age-encryption.org/v1\n"

// Keypair is a freshly generated age x25519 identity. The caller must
// Close it.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... string in protected memory.
	PrivateKey *secret.Buffer

	// PublicKey is the matching age1... recipient.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair creates a new age x25519 identity.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// WriteIdentityFile writes keypair to path in the format age-keygen
// produces, mode 0600. An existing file is never overwritten.
func WriteIdentityFile(path string, keypair *Keypair) error {
	var content bytes.Buffer
	fmt.Fprintf(&content, "# public key: %s\n", keypair.PublicKey)
	content.Write(keypair.PrivateKey.Bytes())
	content.WriteByte('\n')
	defer secret.Zero(content.Bytes())

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	if _, err := file.Write(content.Bytes()); err != nil {
		file.Close()
		return fmt.Errorf("writing identity file: %w", err)
	}
	return file.Close()
}

// Identity is an age x25519 identity held in protected memory.
type Identity struct {
	key       *secret.Buffer
	recipient string
}

// LoadIdentity reads an age identity file (comments allowed, exactly
// one X25519 key).
func LoadIdentity(path string) (*Identity, error) {
	buffer, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity %s: %w", path, err)
	}

	var keyLine string
	for _, line := range strings.Split(buffer.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if keyLine != "" {
			buffer.Close()
			return nil, fmt.Errorf("identity %s: more than one key", path)
		}
		keyLine = line
	}
	buffer.Close()

	parsed, err := age.ParseX25519Identity(keyLine)
	if err != nil {
		return nil, fmt.Errorf("identity %s: %w", path, err)
	}

	key, err := secret.NewFromString(keyLine)
	if err != nil {
		return nil, err
	}
	return &Identity{key: key, recipient: parsed.Recipient().String()}, nil
}

// Recipient returns the identity's age1... public key.
func (i *Identity) Recipient() string { return i.recipient }

// Close releases the key memory. Idempotent.
func (i *Identity) Close() error { return i.key.Close() }

func (i *Identity) parse() (*age.X25519Identity, error) {
	return age.ParseX25519Identity(i.key.String())
}

// Seal encrypts plaintext to the identity's own recipient.
func (i *Identity) Seal(plaintext []byte) ([]byte, error) {
	recipient, err := age.ParseX25519Recipient(i.recipient)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Open decrypts ciphertext produced by Seal.
func (i *Identity) Open(ciphertext []byte) ([]byte, error) {
	identity, err := i.parse()
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether data starts with the age file header.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(header))
}
