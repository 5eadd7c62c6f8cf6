// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"syscall"
)

// TransportReason names the class of a network failure for log fields
// and outcome details. The strings are stable.
func TransportReason(err error) string {
	if err == nil {
		return ""
	}

	var dnsError *net.DNSError
	var hostnameError x509.HostnameError
	var unknownAuthority x509.UnknownAuthorityError
	var certificateInvalid x509.CertificateInvalidError
	var recordHeader tls.RecordHeaderError
	var netError net.Error

	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &dnsError):
		return "dns"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection reset"
	case errors.As(err, &hostnameError),
		errors.As(err, &unknownAuthority),
		errors.As(err, &certificateInvalid),
		errors.As(err, &recordHeader):
		return "tls"
	case errors.As(err, &netError) && netError.Timeout():
		return "timeout"
	default:
		return "network"
	}
}
