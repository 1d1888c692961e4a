package cache

import (
	"context"
	"time"
)

// Cache stores small JSON documents with a TTL. Progress snapshots of streaming jobs live here.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
