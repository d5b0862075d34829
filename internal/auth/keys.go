// Package auth verifies the admin API key guarding the ops endpoints.
// Only the key's SHA-256 hash is ever configured or stored.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Verify reports whether the presented key matches the configured hash.
// Comparison is constant time.
func Verify(key, wantHash string) bool {
	got := HashKey(key)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(strings.TrimSpace(wantHash)))) == 1
}
