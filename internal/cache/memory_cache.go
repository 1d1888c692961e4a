package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const sweepEvery = 256

type memoryItem struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryCache is the single-process Cache. Values are stored JSON-encoded so callers get
// the same copy semantics as with Redis. Expired items are dropped on read and swept every
// sweepEvery writes.
type MemoryCache struct {
	mu    sync.Mutex
	items  map[string]memoryItem
	now    func() time.Time
	writes int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (c *MemoryCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	it, ok := c.items[key]
	if ok && c.expired(it) {
		delete(c.items, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(it.data, dst); err != nil {
		_ = c.Del(context.Background(), key)
		return false, nil
	}
	return true, nil
}

func (c *MemoryCache) SetJSON(_ context.Context, key string, val any, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	it := memoryItem{data: b}
	if ttl > 0 {
		it.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.writes%sweepEvery == 0 {
		c.sweep()
	}
	c.items[key] = it
	return nil
}

func (c *MemoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

func (c *MemoryCache) expired(it memoryItem) bool {
	return !it.expiresAt.IsZero() && !c.now().Before(it.expiresAt)
}

func (c *MemoryCache) sweep() {
	for k, it := range c.items {
		if c.expired(it) {
			delete(c.items, k)
		}
	}
}

// Len reports stored items, expired ones not yet swept included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
