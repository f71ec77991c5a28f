package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// EmptyFileHash is the SHA-256 of zero bytes, the chain origin for a
// freshly initialized store.
var EmptyFileHash = HashBytes(nil)

// HashBytes returns the hex-encoded SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex-encoded SHA-256 of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// HashFile returns the hex-encoded SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return HashBytes(data), nil
}
