package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// Store is the TTL cache behind the data access layer. Entries older than the
// store's TTL are treated as absent.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// CacheKey produces the stable hash of (endpoint, params) used for both the
// TTL cache and request coalescing. url.Values.Encode sorts keys, so the key
// is deterministic for equivalent requests.
func CacheKey(endpoint string, params url.Values) string {
	sum := sha256.Sum256([]byte(endpoint + "?" + params.Encode()))
	return hex.EncodeToString(sum[:])
}
