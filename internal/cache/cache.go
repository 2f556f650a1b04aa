// Package cache holds model responses keyed by a stable request hash and
// persists them to a sidecar store in batches.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultFlushEvery is the number of new entries between sidecar writes.
const DefaultFlushEvery = 10

// Sidecar persists the whole cache snapshot.
type Sidecar interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, entries map[string]string) error
}

// Cache is a process-wide response cache. It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]string
	dirty      int
	flushEvery int

	flushMu sync.Mutex
	sidecar Sidecar
}

// New creates an empty cache. A nil sidecar keeps the cache in memory only.
func New(sidecar Sidecar, flushEvery int) *Cache {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	return &Cache{
		entries:    make(map[string]string),
		flushEvery: flushEvery,
		sidecar:    sidecar,
	}
}

// Load merges the persisted entries into the cache.
func (c *Cache) Load(ctx context.Context) error {
	if c.sidecar == nil {
		return nil
	}
	stored, err := c.sidecar.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cache sidecar: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range stored {
		if _, ok := c.entries[k]; !ok {
			c.entries[k] = v
		}
	}
	slog.Info("Response cache loaded.", "entries", len(c.entries))
	return nil
}

// Get returns the cached response for key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Put stores a response. Every flushEvery new entries the cache is written
// to the sidecar; flush failures are logged and do not affect the caller.
func (c *Cache) Put(ctx context.Context, key, value string) {
	c.mu.Lock()
	if old, ok := c.entries[key]; ok && old == value {
		c.mu.Unlock()
		return
	}
	c.entries[key] = value
	c.dirty++
	due := c.sidecar != nil && c.dirty >= c.flushEvery
	c.mu.Unlock()

	if due {
		if err := c.Flush(ctx); err != nil {
			slog.Warn("Periodic cache flush failed.", "error", err)
		}
	}
}

// Flush writes a snapshot of the cache to the sidecar when there are
// unpersisted entries.
func (c *Cache) Flush(ctx context.Context) error {
	if c.sidecar == nil {
		return nil
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.dirty == 0 {
		c.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	pending := c.dirty
	c.dirty = 0
	c.mu.Unlock()

	if err := c.sidecar.Save(ctx, snapshot); err != nil {
		c.mu.Lock()
		c.dirty += pending
		c.mu.Unlock()
		return fmt.Errorf("failed to persist cache: %w", err)
	}
	slog.Info("Response cache flushed.", "entries", len(snapshot))
	return nil
}
