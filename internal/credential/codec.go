// Package credential issues and verifies opaque bearer credentials.
//
// A credential is the namespace tag followed by 128 bits of hex-encoded
// randomness. Only its lookup prefix and SHA-256 digest are ever persisted.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// Tag is the public namespace every credential starts with.
	Tag = "abund_"
	// ClaimTag marks claim codes so they can never pass as credentials.
	ClaimTag = "abund_claim_"

	entropyBytes = 16
	prefixHexLen = 8

	// MinLength is the shortest string that can be a well-formed credential.
	MinLength = len(Tag) + entropyBytes*2
	// PrefixLength is the length of the cleartext lookup prefix.
	PrefixLength = len(Tag) + prefixHexLen
)

// Generate returns a fresh credential. It never returns a weaker value:
// if the secure random source fails the process exits.
func Generate() string {
	return Tag + randomHex()
}

// GenerateClaimCode returns a code proving out-of-band ownership of an
// account. It is drawn independently of any credential.
func GenerateClaimCode() string {
	return ClaimTag + randomHex()
}

func randomHex() string {
	b := make([]byte, entropyBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		log.Fatal().Err(err).Msg("secure random source unavailable")
	}
	return hex.EncodeToString(b)
}

// WellFormed reports whether c carries the namespace tag, the minimum
// length and a lowercase hex body. It does no store access.
func WellFormed(c string) bool {
	if len(c) < MinLength || !strings.HasPrefix(c, Tag) {
		return false
	}
	for _, ch := range c[len(Tag):] {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}

// LookupPrefix returns the cleartext index key for c: the tag plus the
// first few hex characters. It is never sufficient to authenticate.
func LookupPrefix(c string) string {
	if len(c) <= PrefixLength {
		return c
	}
	return c[:PrefixLength]
}

// Digest returns the hex-encoded SHA-256 of the full credential.
func Digest(c string) string {
	h := sha256.Sum256([]byte(c))
	return hex.EncodeToString(h[:])
}

// ConstantTimeEqual compares two digests without short-circuiting on the
// first differing byte or on a length mismatch. When the lengths differ the
// shorter input is folded cyclically over the longer one and compared in
// full before false is returned.
func ConstantTimeEqual(a, b string) bool {
	if len(a) == len(b) {
		return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
	}

	long, short := a, b
	if len(short) > len(long) {
		long, short = short, long
	}
	folded := make([]byte, len(long))
	if len(short) > 0 {
		for i := range folded {
			folded[i] = short[i%len(short)]
		}
	}
	subtle.ConstantTimeCompare([]byte(long), folded)
	return false
}

// Verify reports whether c hashes to storedDigest.
func Verify(c, storedDigest string) bool {
	return ConstantTimeEqual(Digest(c), storedDigest)
}
