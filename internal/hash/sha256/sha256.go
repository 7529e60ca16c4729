// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces hex SHA-256 digests for content deduplication.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// ShortLen is the digest prefix length used in artifact file names.
const ShortLen = 12

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Short truncates a hex digest to ShortLen characters for use in file names.
// Digests shorter than ShortLen are returned unchanged.
func Short(digest string) string {
	if len(digest) <= ShortLen {
		return digest
	}
	return digest[:ShortLen]
}
