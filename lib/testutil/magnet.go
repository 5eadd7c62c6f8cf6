// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var magnetCounter atomic.Uint64

// UniqueMagnet returns a magnet link whose 40-hex-digit info hash is
// unique within the test binary, optionally followed by a display name
// parameter.
//
//	testutil.UniqueMagnet("")       // "magnet:?xt=urn:btih:0000...0001"
//	testutil.UniqueMagnet("ubuntu") // "magnet:?xt=urn:btih:0000...0002&dn=ubuntu"
func UniqueMagnet(name string) string {
	link := fmt.Sprintf("magnet:?xt=urn:btih:%040x", magnetCounter.Add(1))
	if name != "" {
		link += "&dn=" + name
	}
	return link
}
