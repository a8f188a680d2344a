// Package natskv implements the history cache port on NATS JetStream KV.
package natskv

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache is the L2 tier for archived history reads, shared by all replicas of
// the service. Keys must be valid JetStream KV keys (dot-separated, no
// colons); see the archiver's key builder.
type Cache struct {
	kv jetstream.KeyValue
}

// New wraps an existing KV bucket as a cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// EnsureBucket creates or opens the named KV bucket. Entry expiry is
// configured here at the bucket level, not per Set.
func EnsureBucket(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	return js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
}

// Get returns the cached history payload, ok=false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores a history payload. The per-call ttl is ignored; the bucket TTL
// governs expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, key, value)
	return err
}

// Delete drops a payload. A missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
