// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package contenthash computes a stable 64-bit fingerprint of a thinking
// block's visible text, used as a cache key by the thinking registry.
//
// Documented collision mode: two strings sharing the same prefix (first
// 256 bytes), the same suffix (last 256 bytes), and the same total length
// collide. This is accepted for cache-key use — there is no adversary, and
// a collision produces a false-positive cache hit rather than a
// correctness violation. Do not reuse this fingerprint for anything that
// becomes authoritative over billing or content (see DESIGN.md).
package contenthash

import "github.com/cespare/xxhash/v2"

const boundaryBytes = 256

// Fingerprint returns the stable fingerprint of s.
func Fingerprint(s string) uint64 {
	prefix, suffix := splitBoundary(s)

	h := xxhash.New()
	_, _ = h.WriteString(prefix)
	_, _ = h.WriteString(suffix)

	var lenBuf [8]byte
	length := uint64(len(s))
	for i := 0; i < 8; i++ {
		lenBuf[i] = byte(length >> (8 * i))
	}
	_, _ = h.Write(lenBuf[:])

	return h.Sum64()
}

// splitBoundary returns the leading and trailing up-to-256-byte slices of
// s, each rounded inward to the nearest rune boundary so neither slice
// splits a multi-byte UTF-8 sequence.
func splitBoundary(s string) (prefix, suffix string) {
	if len(s) <= boundaryBytes {
		return s, s
	}

	prefixEnd := boundaryBytes
	for prefixEnd > 0 && isUTF8Continuation(s[prefixEnd]) {
		prefixEnd--
	}
	prefix = s[:prefixEnd]

	suffixStart := len(s) - boundaryBytes
	for suffixStart < len(s) && isUTF8Continuation(s[suffixStart]) {
		suffixStart++
	}
	suffix = s[suffixStart:]

	return prefix, suffix
}

// isUTF8Continuation reports whether b is a UTF-8 continuation byte
// (10xxxxxx), i.e. not a valid place to split a string.
func isUTF8Continuation(b byte) bool {
	return b&0xC0 == 0x80
}
