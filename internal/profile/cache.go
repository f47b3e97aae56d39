// Package profile caches watering-profile lookups in front of the store.
// Entries expire on a TTL and are evicted immediately when a profile is
// written, so the decision engine never acts on an arbitrarily stale profile.
package profile

import (
	"context"
	"sync"
	"time"

	"github.com/growlog/irrigationd/internal/model"
)

// Source is the backing lookup, normally the SQLite store.
type Source interface {
	ActiveProfile(ctx context.Context, deviceID string) (model.WateringProfile, error)
}

type entry struct {
	profile model.WateringProfile
	expires time.Time
}

type Cache struct {
	src Source
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]entry
}

func NewCache(src Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{src: src, ttl: ttl, entries: make(map[string]entry)}
}

// Get returns the device's active profile, from cache when fresh. Lookup
// failures other than a missing profile are returned to the caller, which is
// expected to fall back to built-in defaults.
func (c *Cache) Get(ctx context.Context, deviceID string) (model.WateringProfile, error) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[deviceID]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.profile, nil
	}
	c.mu.Unlock()

	p, err := c.src.ActiveProfile(ctx, deviceID)
	if err != nil {
		return model.WateringProfile{}, err
	}

	c.mu.Lock()
	c.entries[deviceID] = entry{profile: p, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return p, nil
}

// Invalidate drops the cached entry for a device. Called after profile writes.
func (c *Cache) Invalidate(deviceID string) {
	c.mu.Lock()
	delete(c.entries, deviceID)
	c.mu.Unlock()
}
