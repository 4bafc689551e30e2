package cache

import (
	"container/list"
	"sync"
	"time"
)

// item is one cached value plus its bookkeeping.
type item struct {
	key       string
	value     interface{}
	createdAt time.Time
	expiresAt time.Time
}

// Cache is an in-memory cache with a fixed capacity, a single TTL for all
// entries, and least-recently-used eviction when full. A single mutex
// guards the map and recency list together so check-then-act sequences are
// atomic with respect to concurrent callers.
type Cache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration
}

// New creates a cache holding at most capacity entries, each valid for ttl.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Set stores a value, replacing any existing entry for the key and
// evicting the least-recently-used entry when at capacity.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if el, exists := c.items[key]; exists {
		it := el.Value.(*item)
		it.value = value
		it.createdAt = now
		it.expiresAt = now.Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	el := c.order.PushFront(&item{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	})
	c.items[key] = el
}

// Get retrieves a value if present and not expired, marking it recently
// used. Expired entries are removed on access.
func (c *Cache) Get(key string) (interface{}, bool) {
	v, _, ok := c.GetWithAge(key)
	return v, ok
}

// GetWithAge is Get plus the entry's age, for cache metadata reporting.
func (c *Cache) GetWithAge(key string) (interface{}, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, exists := c.items[key]
	if !exists {
		return nil, 0, false
	}
	it := el.Value.(*item)
	now := time.Now()
	if now.After(it.expiresAt) {
		c.removeElement(el)
		return nil, 0, false
	}
	c.order.MoveToFront(el)
	return it.value, now.Sub(it.createdAt), true
}

// Delete removes a key. Returns true if it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, exists := c.items[key]
	if !exists {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear removes all entries and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.items)
	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
	return n
}

// InvalidatePrefix removes all entries whose key starts with prefix and
// returns the count.
func (c *Cache) InvalidatePrefix(prefix string) int {
	return c.InvalidateFunc(func(key string) bool {
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	})
}

// InvalidateFunc removes all entries whose key matches the predicate and
// returns the count.
func (c *Cache) InvalidateFunc(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, el := range c.items {
		if match(key) {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}

// SweepExpired removes all expired entries and returns the count.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, el := range c.items {
		if now.After(el.Value.(*item).expiresAt) {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}

// Len returns the current number of entries, expired ones included until
// they are swept or touched.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Capacity returns the configured maximum entry count.
func (c *Cache) Capacity() int { return c.capacity }

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) evictOldest() {
	if el := c.order.Back(); el != nil {
		c.removeElement(el)
	}
}

func (c *Cache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*item).key)
}
