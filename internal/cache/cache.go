package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/FranksOps/seedling/internal/config"
)

// Store is a byte-oriented key/value backend with TTL eviction.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Close() error
}

// Cache stores provider responses with an explicit expiry. A hit is only
// returned while now < expiry, regardless of when the backend evicts.
type Cache struct {
	store Store
	now   func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New wraps store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives a deterministic cache key from a provider id and its
// normalized request parameters.
func Key(provider, request string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + request))
	return provider + ":" + hex.EncodeToString(sum[:16])
}

const headerLen = 8

// Get returns the stored value for key if it has not expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if !ok || len(raw) < headerLen {
		return nil, false, nil
	}

	expiry := time.Unix(0, int64(binary.BigEndian.Uint64(raw[:headerLen])))
	if !c.now().Before(expiry) {
		return nil, false, nil
	}
	return raw[headerLen:], true, nil
}

// Put stores val under key for ttl, overwriting any previous entry.
// A non-positive ttl stores nothing.
func (c *Cache) Put(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	buf := make([]byte, headerLen+len(val))
	binary.BigEndian.PutUint64(buf, uint64(c.now().Add(ttl).UnixNano()))
	copy(buf[headerLen:], val)

	if err := c.store.Set(ctx, key, buf, ttl); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.store.Close()
}

// Open builds the Store selected by cfg.
func Open(ctx context.Context, cfg config.Cache) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, cfg.Prefix)
	case "badger":
		return NewBadger(cfg.BadgerPath)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
