package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// Guard reports whether an inbound platform message id is seen for the
// first time. A true result claims the id.
type Guard interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	// Forget releases a claim so a later redelivery is processed again.
	Forget(ctx context.Context, id string) error
}

// MemoryGuard keeps claimed ids in a bounded LRU with per-entry expiry.
type MemoryGuard struct {
	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

var _ Guard = (*MemoryGuard)(nil)

func NewMemoryGuard(size int, ttl time.Duration) (*MemoryGuard, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("coordination: create lru: %w", err)
	}
	return &MemoryGuard{cache: cache, ttl: ttl, now: time.Now}, nil
}

func (g *MemoryGuard) FirstSeen(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.now()
	if v, ok := g.cache.Get(id); ok {
		if expires, _ := v.(time.Time); g.ttl <= 0 || t.Before(expires) {
			return false, nil
		}
	}
	g.cache.Add(id, t.Add(g.ttl))
	return true, nil
}

func (g *MemoryGuard) Forget(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache.Remove(id)
	return nil
}

// setNXer is the part of *redis.Client used by RedisGuard.
type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisGuard claims ids with SET NX so every instance shares one view.
type RedisGuard struct {
	client setNXer
	ttl    time.Duration
	prefix string
}

var _ Guard = (*RedisGuard)(nil)

func NewRedisGuard(client *redis.Client, ttl time.Duration) (*RedisGuard, error) {
	if client == nil {
		return nil, errors.New("coordination: redis client must not be nil")
	}
	return &RedisGuard{client: client, ttl: ttl, prefix: "relay:wamid:"}, nil
}

func (g *RedisGuard) FirstSeen(ctx context.Context, id string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+id, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("coordination: claim %q: %w", id, err)
	}
	return ok, nil
}

func (g *RedisGuard) Forget(ctx context.Context, id string) error {
	if err := g.client.Del(ctx, g.prefix+id).Err(); err != nil {
		return fmt.Errorf("coordination: forget %q: %w", id, err)
	}
	return nil
}
