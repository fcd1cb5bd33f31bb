package cache

import (
	"context"
	"fmt"
	"time"
)

// Key is the content address of one cached generation result. Hash covers
// every request field that affects the output; backend and model are kept
// readable for logs and key scans.
type Key struct {
	Backend string
	Model   string
	Hash    string
}

// String renders the final key used in Redis or the in-memory map:
// resp:<BACKEND>:<MODEL>:<HASH_HEX>.
func (k Key) String() string {
	return fmt.Sprintf("resp:%s:%s:%s", k.Backend, k.Model, k.Hash)
}

// ResponseCache is the cache surface the dispatcher consumes. Implemented
// by the memory cache (dev) and the Redis cache (prod). It is best-effort:
// callers treat errors as misses, never as dispatch failures.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
