// Package idhash derives the stable, privacy-safe identifier used in place
// of a raw inbox id everywhere logs or metrics need a per-user label.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Length is the number of hex characters kept from the SHA-256 digest.
const Length = 12

// Hash returns the first 12 hex characters of the SHA-256 digest of id.
// It is a one-way function: the raw inbox id can never be recovered from
// the result. Core code must never log a raw inbox id; it logs Hash(id)
// instead.
func Hash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:Length]
}
