// Package cache is a best-effort memo for repeated reads. Entries expire after a
// fixed TTL; there is no other invalidation.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	// TTL of zero disables the cache; every lookup misses.
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
}

type Cache struct {
	cfg     Config
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	log     zerolog.Logger
	stop    chan struct{}
	once    sync.Once
}

func New(cfg Config, log zerolog.Logger) *Cache {
	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]entry),
		now:     time.Now,
		log:     log.With().Str("component", "query_cache").Logger(),
		stop:    make(chan struct{}),
	}
	if cfg.TTL > 0 && cfg.CleanupInterval > 0 {
		go c.janitor()
	}
	return c
}

func (c *Cache) Enabled() bool { return c != nil && c.cfg.TTL > 0 }

// Key hashes the parts into a fixed-length cache key.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) Get(key string) (any, bool) {
	if !c.Enabled() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, value any) {
	if !c.Enabled() {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, createdAt: now, expiresAt: now.Add(c.cfg.TTL)}
	if c.cfg.MaxEntries > 0 && len(c.entries) > c.cfg.MaxEntries {
		c.evictOldestLocked(len(c.entries) - c.cfg.MaxEntries)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Remember returns the cached value for key or computes, stores and returns it.
// Errors are never cached.
func Remember[T any](c *Cache, key string, fn func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	v, err := fn()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) janitor() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) cleanup() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	expired := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			expired++
		}
	}
	if expired > 0 {
		c.log.Debug().Int("expired_removed", expired).Int("remaining", len(c.entries)).Msg("cache cleanup")
	}
}

func (c *Cache) evictOldestLocked(n int) {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].createdAt.Before(c.entries[keys[j]].createdAt)
	})
	for _, k := range keys[:n] {
		delete(c.entries, k)
	}
}
