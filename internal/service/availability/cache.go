package availability

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"salonbook/backend/internal/domain"
)

// Cache keeps recently loaded provider schedules for the read path. Writes
// through Service invalidate the affected provider. Concurrent misses for
// the same provider share a single load.
type Cache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry
	// generation advances on every invalidation so a load that started
	// before it is not stored.
	generation uint64
	loads      singleflight.Group
}

type cacheEntry struct {
	schedule  domain.ProviderSchedule
	expiresAt time.Time
}

func NewCache(ttl time.Duration, maxEntries int, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
	}
}

func (c *Cache) Get(providerID string) (domain.ProviderSchedule, bool) {
	if c == nil {
		return domain.ProviderSchedule{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[providerID]
	c.mu.RUnlock()
	if !ok {
		return domain.ProviderSchedule{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, providerID)
		c.mu.Unlock()
		return domain.ProviderSchedule{}, false
	}
	return cloneSchedule(entry.schedule), true
}

func (c *Cache) Store(providerID string, schedule domain.ProviderSchedule) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(providerID, schedule)
}

func (c *Cache) storeLocked(providerID string, schedule domain.ProviderSchedule) {
	c.cleanupLocked()
	if _, exists := c.entries[providerID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[providerID] = cacheEntry{schedule: cloneSchedule(schedule), expiresAt: c.now().Add(c.ttl)}
}

// Load returns the cached schedule or runs load once for all concurrent
// callers asking for the same provider.
func (c *Cache) Load(ctx context.Context, providerID string, load func(ctx context.Context) (domain.ProviderSchedule, error)) (domain.ProviderSchedule, error) {
	if c == nil {
		return load(ctx)
	}
	if s, ok := c.Get(providerID); ok {
		return s, nil
	}

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	v, err, _ := c.loads.Do(providerID, func() (any, error) {
		s, err := load(ctx)
		if err != nil {
			return domain.ProviderSchedule{}, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.storeLocked(providerID, s)
		}
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return domain.ProviderSchedule{}, err
	}
	return cloneSchedule(v.(domain.ProviderSchedule)), nil
}

func (c *Cache) Invalidate(providerID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, providerID)
	c.generation++
	c.mu.Unlock()
	c.loads.Forget(providerID)
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *Cache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}

func cloneSchedule(s domain.ProviderSchedule) domain.ProviderSchedule {
	return domain.ProviderSchedule{
		ProviderID: s.ProviderID,
		Windows:    slices.Clone(s.Windows),
		TimeOff:    slices.Clone(s.TimeOff),
	}
}
