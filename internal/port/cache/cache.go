// Package cache defines the port the archiver reads history through.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key-value cache holding serialized conversation
// histories. Get reports a miss with ok=false rather than an error, so a cold
// cache never fails a read path.
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
