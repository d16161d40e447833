package util

import (
	"github.com/google/uuid"
)

// seedNamespace scopes StableID so seed ids never collide with random ones.
var seedNamespace = uuid.MustParse("8f0a5a7e-4a52-4c37-9d0e-2f3c8c1b6a11")

// NewID returns a fresh random record id.
func NewID() string {
	return uuid.NewString()
}

// StableID derives a deterministic id from a kind and a key.
func StableID(kind, key string) string {
	return uuid.NewSHA1(seedNamespace, []byte(kind+"/"+key)).String()
}
