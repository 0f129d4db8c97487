// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package checksum

import (
	"strings"

	cristalbase64 "github.com/cristalhq/base64"
	"github.com/zeebo/blake3"
)

// StrongLength is the length of every string returned by [Strong]:
// 32 digest bytes in unpadded base64.
const StrongLength = 43

// Strong returns the strong checksum of data. When secret is non-empty
// the digest covers secret || data, which scopes the result to one
// password domain.
func Strong(data, secret []byte) string {
	hasher := blake3.New()
	if len(secret) > 0 {
		hasher.Write(secret)
	}
	hasher.Write(data)
	return render(hasher.Sum(nil))
}

func render(digest []byte) string {
	encoded := cristalbase64.URLEncoding.EncodeToString(digest)
	return strings.ToUpper(strings.TrimRight(encoded, "="))
}

// ValidStrong reports whether text has the shape of a strong checksum.
// It is used to reject malformed archive ids before touching a backend.
func ValidStrong(text string) bool {
	if len(text) != StrongLength {
		return false
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
