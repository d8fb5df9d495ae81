package canon

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashPrefix is prepended to every SHA-256 content hash on the wire.
const HashPrefix = "sha256:"

// VerifyResult reports the outcome of comparing a declared hash against a
// recomputed one.
type VerifyResult struct {
	Verified bool
	Computed string
	Expected string
	Reason   string
}

// Hash computes "sha256:" + lowercase_hex(SHA256(canonicalBytes)).
func Hash(canonicalBytes []byte) string {
	sum := sha256.Sum256(canonicalBytes)

	return HashPrefix + hex.EncodeToString(sum[:])
}

// Verify compares a declared hash against the hash recomputed over
// canonicalBytes using a length-constant-time byte comparison so that a
// forged hash of differing length leaks no more timing information than
// one of matching length.
func Verify(declared string, canonicalBytes []byte) VerifyResult {
	computed := Hash(canonicalBytes)

	if !strings.HasPrefix(declared, HashPrefix) {
		return VerifyResult{
			Verified: false,
			Computed: computed,
			Expected: declared,
			Reason:   "malformed hash: missing sha256: prefix",
		}
	}

	if secureCompare(declared, computed) {
		return VerifyResult{Verified: true, Computed: computed, Expected: declared}
	}

	return VerifyResult{
		Verified: false,
		Computed: computed,
		Expected: declared,
		Reason:   "hash mismatch",
	}
}

// secureCompare performs a constant-time comparison regardless of whether
// the two strings have matching lengths, so that an attacker probing for a
// valid prefix cannot learn anything from comparison duration.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		// Still perform a comparison of equal cost to avoid a short-circuit
		// timing signal tied to length mismatch.
		dummy := make([]byte, len(a))
		_ = subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// FormatSHA256Hex renders raw SHA-256 bytes with the "sha256:" prefix, used
// when the digest was computed elsewhere (e.g. Golden Thread hashing).
func FormatSHA256Hex(sum [32]byte) string {
	return fmt.Sprintf("%s%x", HashPrefix, sum)
}
