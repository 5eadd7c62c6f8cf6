// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestIdentity(t *testing.T) string {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	path := filepath.Join(t.TempDir(), "session.key")
	if err := WriteIdentityFile(path, keypair); err != nil {
		t.Fatalf("WriteIdentityFile: %v", err)
	}
	return path
}

func TestGenerateKeypair(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	if !strings.HasPrefix(keypair.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Error("private key lacks AGE-SECRET-KEY-1 prefix")
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want age1 prefix", keypair.PublicKey)
	}
}

func TestWriteIdentityFile_RefusesOverwrite(t *testing.T) {
	path := writeTestIdentity(t)

	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	if err := WriteIdentityFile(path, keypair); err == nil {
		t.Fatal("expected error writing over an existing identity file")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("identity file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestSealOpen(t *testing.T) {
	identity, err := LoadIdentity(writeTestIdentity(t))
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	defer identity.Close()

	plaintext := []byte("SID=abc123; path=/")
	ciphertext, err := identity.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !IsSealed(ciphertext) {
		t.Error("Seal output does not carry the age header")
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("ciphertext contains the plaintext")
	}

	opened, err := identity.Open(ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

func TestOpen_WrongIdentity(t *testing.T) {
	first, err := LoadIdentity(writeTestIdentity(t))
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	defer first.Close()
	second, err := LoadIdentity(writeTestIdentity(t))
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	defer second.Close()

	ciphertext, err := first.Seal([]byte("cookie"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := second.Open(ciphertext); err == nil {
		t.Fatal("expected Open with the wrong identity to fail")
	}
}

func TestLoadIdentity_Invalid(t *testing.T) {
	directory := t.TempDir()

	garbage := filepath.Join(directory, "garbage.key")
	if err := os.WriteFile(garbage, []byte("# comment\nnot-a-key\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadIdentity(garbage); err == nil {
		t.Error("expected error for malformed key")
	}

	if _, err := LoadIdentity(filepath.Join(directory, "missing.key")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIsSealed(t *testing.T) {
	if IsSealed([]byte{0xa5, 0x01}) {
		t.Error("CBOR bytes reported as sealed")
	}
	if !IsSealed([]byte(header + "-> X25519 ...")) {
		t.Error("age header not recognised")
	}
}
