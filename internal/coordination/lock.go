package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Locker serializes work on a key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// KeyedMutex is an in-process Locker. Entries are dropped once no caller
// holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*KeyedMutex)(nil)

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, fmt.Errorf("coordination: lock %q: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// distMutex is the part of *redsync.Mutex used by RedisLocker.
type distMutex interface {
	LockContext(ctx context.Context) error
	UnlockContext(ctx context.Context) (bool, error)
}

// RedisLocker is a Locker backed by redsync, shared across instances.
type RedisLocker struct {
	newMutex func(name string) distMutex
	prefix   string
	log      zerolog.Logger
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker holds each lock for at most expiry. Acquisition retries
// until the caller's context is done.
func NewRedisLocker(client *redis.Client, expiry time.Duration, log zerolog.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("coordination: redis client must not be nil")
	}
	if expiry <= 0 {
		expiry = 2 * time.Minute
	}
	rs := redsync.New(goredis.NewPool(client))
	return &RedisLocker{
		newMutex: func(name string) distMutex {
			return rs.NewMutex(name,
				redsync.WithExpiry(expiry),
				redsync.WithTries(64),
				redsync.WithRetryDelay(250*time.Millisecond),
			)
		},
		prefix: "relay:lock:",
		log:    log.With().Str("component", "locker").Logger(),
	}, nil
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	name := r.prefix + key
	m := r.newMutex(name)
	if err := m.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("coordination: lock %q: %w", name, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if ok, err := m.UnlockContext(unlockCtx); err != nil || !ok {
				r.log.Warn().Err(err).Str("lock", name).Msg("failed to release lock")
			}
		})
	}, nil
}
