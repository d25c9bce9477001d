package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32

// New mints an opaque bearer token.
func New() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Equal compares a supplied token with the stored one in constant time. Both
// values are hashed first so the comparison does not leak the stored length.
// An empty stored token never matches.
func Equal(stored, supplied string) bool {
	a := sha256.Sum256([]byte(stored))
	b := sha256.Sum256([]byte(supplied))
	eq := subtle.ConstantTimeCompare(a[:], b[:]) == 1
	return eq && stored != ""
}
