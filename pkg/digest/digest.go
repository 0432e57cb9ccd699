// Package digest computes content tokens used to decide whether two payloads
// are byte-identical.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Token is a hex-encoded SHA-256 digest.
type Token string

// Of returns the digest of content.
func Of(content []byte) Token {
	sum := sha256.Sum256(content)
	return Token(hex.EncodeToString(sum[:]))
}

// Short returns the first 12 hex characters, enough to tell documents apart in logs.
func (t Token) Short() string {
	if len(t) <= 12 {
		return string(t)
	}
	return string(t[:12])
}

func (t Token) String() string {
	return string(t)
}
