package weather

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cache stores day series between lookups.
type Cache interface {
	Get(ctx context.Context, key string) (*DaySeries, bool, error)
	Set(ctx context.Context, key string, day *DaySeries, ttl time.Duration) error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	clock clockwork.Clock

	mu              sync.RWMutex
	entries         map[string]*cachedDay
	lastCleanup     time.Time
	cleanupInterval time.Duration
}

type cachedDay struct {
	day       *DaySeries
	expiresAt time.Time
}

// NewMemoryCache creates an empty MemoryCache. A nil clock uses real time.
func NewMemoryCache(clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{
		clock:           clock,
		entries:         make(map[string]*cachedDay),
		cleanupInterval: 5 * time.Minute,
	}
}

// Get returns a cached series if present and not expired.
func (c *MemoryCache) Get(_ context.Context, key string) (*DaySeries, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.day, true, nil
}

// Set stores a series for ttl.
func (c *MemoryCache) Set(_ context.Context, key string, day *DaySeries, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.entries[key] = &cachedDay{day: day, expiresAt: now.Add(ttl)}
	c.cleanupLocked(now)
	return nil
}

// Len returns the number of entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) cleanupLocked(now time.Time) {
	if now.Sub(c.lastCleanup) < c.cleanupInterval {
		return
	}
	c.lastCleanup = now
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
