package fx

import (
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cache is the process-wide rate cache. Entries never expire; once capacity
// is reached the entry fetched longest ago is evicted. One mutex guards every
// lookup and insert so that eviction and stale lookups see a consistent set.
type Cache struct {
	mu       sync.Mutex
	items    *cache.Cache
	capacity int
}

func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		items:    cache.New(cache.NoExpiration, 0),
		capacity: capacity,
	}
}

// Get returns the entry cached for exactly this pair and date.
func (c *Cache) Get(p Pair, date time.Time) (RateEntry, bool) {
	return c.lookup(entryKey(p, date))
}

func (c *Cache) lookup(key string) (RateEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items.Get(key)
	if !ok {
		return RateEntry{}, false
	}
	return v.(RateEntry), true
}

// Put stores e, evicting the oldest-fetched entry when the cache is full.
func (c *Cache) Put(e RateEntry) {
	key := entryKey(e.Pair, e.Date)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items.Get(key); !exists && c.items.ItemCount() >= c.capacity {
		c.evictOldest()
	}
	c.items.Set(key, e, cache.NoExpiration)
}

// Latest returns the entry with the most recent as-of date for the pair,
// regardless of the date asked for.
func (c *Cache) Latest(p Pair) (RateEntry, bool) {
	prefix := p.Base + "/" + p.Quote + "/"
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		best  RateEntry
		found bool
	)
	for key, item := range c.items.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		e := item.Object.(RateEntry)
		if !found || e.Date.After(best.Date) {
			best, found = e, true
		}
	}
	return best, found
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.ItemCount()
}

func (c *Cache) evictOldest() {
	var (
		oldestKey string
		oldest    RateEntry
	)
	for key, item := range c.items.Items() {
		e := item.Object.(RateEntry)
		if oldestKey == "" || e.FetchedAt.Before(oldest.FetchedAt) ||
			(e.FetchedAt.Equal(oldest.FetchedAt) && key < oldestKey) {
			oldestKey, oldest = key, e
		}
	}
	if oldestKey != "" {
		c.items.Delete(oldestKey)
	}
}
