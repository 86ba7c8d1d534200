package cache

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"osint/internal/lookup/models"
)

const keyPrefix = "osint"

// Key is the canonical cache key for a query: osint:{type}:{blake2b-256 hex}.
// The same key identifies in-flight tasks.
func Key(t models.QueryType, normalizedValue string) string {
	sum := blake2b.Sum256([]byte(string(t) + "\x00" + normalizedValue))
	return keyPrefix + ":" + string(t) + ":" + hex.EncodeToString(sum[:])
}

func KeyFor(q models.Query) string {
	return Key(q.Type, q.NormalizedValue)
}

// TypePattern matches every key of one query type.
func TypePattern(t models.QueryType) string {
	return keyPrefix + ":" + string(t) + ":*"
}

// AllPattern matches every lookup key.
const AllPattern = keyPrefix + ":*"
