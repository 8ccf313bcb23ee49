package storage

import (
	"context"
	"sync"
	"time"
)

type availableEntry struct {
	available int
	version   int64
	expiresAt time.Time
}

// MemoryCache is the in-process StockCache used when no Redis is configured.
// Entries expire with the same TTLs as the Redis adapter.
type MemoryCache struct {
	mu          sync.RWMutex
	available   map[string]availableEntry
	idempotency map[string]time.Time
	now         func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		available:   make(map[string]availableEntry),
		idempotency: make(map[string]time.Time),
		now:         time.Now,
	}
}

func (c *MemoryCache) GetAvailable(_ context.Context, productID string) (int, bool, error) {
	c.mu.RLock()
	entry, ok := c.available[productID]
	c.mu.RUnlock()
	if !ok {
		return 0, false, nil
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.available, productID)
		c.mu.Unlock()
		return 0, false, nil
	}
	return entry.available, true, nil
}

func (c *MemoryCache) SetAvailable(_ context.Context, productID string, available int, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.available[productID]; ok && current.version > version {
		return nil
	}
	c.available[productID] = availableEntry{
		available: available,
		version:   version,
		expiresAt: c.now().Add(availableKeyTTL),
	}
	return nil
}

func (c *MemoryCache) SetIdempotency(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expiresAt, ok := c.idempotency[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	c.idempotency[key] = now.Add(idempotencyKeyTTL)
	return true, nil
}

func (c *MemoryCache) ClearIdempotency(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.idempotency, key)
	return nil
}
