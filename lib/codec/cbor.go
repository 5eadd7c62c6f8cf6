// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used for on-disk state.
//
// Session files are CBOR with Core Deterministic Encoding (RFC 8949
// §4.2): map keys sorted, integers in their smallest form, no
// indefinite-length items. The same session always encodes to the same
// bytes, which is what lets a digest over the encoded session detect
// tampering or truncation. Types that only ever travel through this
// package use `cbor` struct tags.
package codec

import (
	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Microsecond unix timestamps keep cookie expiry and save times
	// exact across a round trip without the text overhead of RFC 3339.
	encOptions.Time = cbor.TimeUnixMicro
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Unknown fields are ignored so an older binary can read a
		// session file written by a newer one.
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		// A session file is a few hundred bytes. Anything claiming
		// deeper nesting or huge arrays is corrupt.
		MaxNestedLevels:  16,
		MaxArrayElements: 4096,
		MaxMapPairs:      4096,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Valid reports whether data is exactly one well-formed CBOR item.
func Valid(data []byte) error {
	return decMode.Wellformed(data)
}
