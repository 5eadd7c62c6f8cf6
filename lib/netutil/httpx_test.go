// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
)

type failReader struct{}

func (failReader) Read([]byte) (int, error) { return 0, fmt.Errorf("simulated read failure") }

func TestReadResponse(t *testing.T) {
	t.Run("normal body", func(t *testing.T) {
		data, err := ReadResponse(bytes.NewReader([]byte("Ok.")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != "Ok." {
			t.Fatalf("got %q, want %q", data, "Ok.")
		}
	})

	t.Run("bounded", func(t *testing.T) {
		huge := strings.Repeat("x", int(MaxResponseSize)+100)
		data, err := ReadResponse(strings.NewReader(huge))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if int64(len(data)) != MaxResponseSize {
			t.Fatalf("read %d bytes, want %d", len(data), MaxResponseSize)
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if _, err := ReadResponse(failReader{}); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{"short", "Fails.", 10, "Fails."},
		{"exact", "abcde", 5, "abcde"},
		{"cut", "abcdefgh", 4, "abcd..."},
		{"no limit", "abcdefgh", 0, "abcdefgh"},
		{"multibyte boundary", "abécd", 3, "ab..."},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Truncate(test.input, test.limit); got != test.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", test.input, test.limit, got, test.want)
			}
		})
	}
}

func TestOrigin(t *testing.T) {
	origin, err := Origin("http://rpi.example.com:8080/api/v2")
	if err != nil {
		t.Fatalf("Origin: %v", err)
	}
	if origin != "http://rpi.example.com:8080" {
		t.Errorf("Origin = %q", origin)
	}

	if _, err := Origin("/api/v2"); err == nil {
		t.Error("expected error for relative URL")
	}
}

func TestTransportReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), "canceled"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}, "dns"},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, "connection refused"},
		{"other", errors.New("boom"), "network"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := TransportReason(test.err); got != test.want {
				t.Errorf("TransportReason(%v) = %q, want %q", test.err, got, test.want)
			}
		})
	}
}
