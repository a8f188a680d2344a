// Package ristretto implements the history cache port in process memory.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is the L1 tier for archived history reads. Cost accounting is by
// payload size, so a handful of very long conversations cannot crowd out
// everything else.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxCostBytes of serialized history.
func New(maxCostBytes int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x the expected entry count
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get returns the cached history payload, ok=false on a miss.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a history payload, costed by its length.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete drops a payload, typically after a new turn invalidates it.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
