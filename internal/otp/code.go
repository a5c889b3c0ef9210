package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	// DefaultLength is the number of digits in a generated code
	DefaultLength = 6

	// DefaultAlphabet is the character set codes are drawn from
	DefaultAlphabet = "0123456789"
)

// GenerateCode creates a cryptographically random code of the given length,
// each character drawn uniformly from alphabet. Uses rejection sampling so
// the selection carries no modulo bias.
func GenerateCode(length int, alphabet string) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length: %d", length)
	}
	if len(alphabet) == 0 || len(alphabet) > 256 {
		return "", fmt.Errorf("invalid alphabet size: %d", len(alphabet))
	}

	// Largest multiple of len(alphabet) that fits in a byte; bytes at or
	// above this bound are discarded and redrawn.
	bound := 256 - (256 % len(alphabet))

	code := make([]byte, length)
	buf := make([]byte, 1)
	for i := 0; i < length; {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		if int(buf[0]) >= bound {
			continue
		}
		code[i] = alphabet[int(buf[0])%len(alphabet)]
		i++
	}

	return string(code), nil
}

// HashCode computes the SHA-256 digest of a code as lowercase hex.
// Deterministic: verification re-hashes the candidate and compares digests,
// so the plaintext code is never stored or compared.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// DigestsEqual compares two hex digests in constant time.
func DigestsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
