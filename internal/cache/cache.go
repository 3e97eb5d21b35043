package cache

import (
	"context"
	"time"
)

type Cache interface {
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	// SetNX stores the value only if the key does not exist yet and
	// reports whether this call claimed it.
	SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
}
