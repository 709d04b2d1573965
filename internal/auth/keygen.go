package auth

import (
	"crypto/rand"
	"fmt"
)

// DefaultKeyLength is the generated key length when none is requested.
const DefaultKeyLength = 32

// urlSafeAlphabet has exactly 64 characters so each random byte maps to
// a character with a mask, without modulo bias.
const urlSafeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// GenerateKey returns a cryptographically random API key over a
// URL-safe alphabet. Lengths below MinKeyLength are rejected; zero or
// negative lengths use DefaultKeyLength.
func GenerateKey(length int) (string, error) {
	if length <= 0 {
		length = DefaultKeyLength
	}
	if length < MinKeyLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrKeyTooShort, MinKeyLength)
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	for i, b := range buf {
		buf[i] = urlSafeAlphabet[b&0x3f]
	}
	return string(buf), nil
}

// MustGenerateKey is GenerateKey for initialization paths where a
// failure of the system randomness source is fatal.
func MustGenerateKey(length int) string {
	key, err := GenerateKey(length)
	if err != nil {
		panic(err)
	}
	return key
}
