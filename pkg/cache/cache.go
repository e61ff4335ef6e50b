// Package cache provides an in-memory LRU cache with TTL for read-heavy
// HTTP responses: registry listings and per-tenant capability projections.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// entry is one cached value together with its list element for LRU order.
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// TTLCache is a thread-safe LRU cache with per-cache TTL. Eviction order
// follows recency of use; expired entries are lazily evicted on Get.
type TTLCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
	ttl     time.Duration
}

// NewTTLCache creates a cache with the given maximum size and TTL.
// maxSize must be >= 1; ttl must be > 0.
func NewTTLCache(maxSize int, ttl time.Duration) *TTLCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &TTLCache{
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a cached value by key. Returns (nil, false) if the key is
// missing or expired.
func (c *TTLCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)

	if time.Now().After(e.expiresAt) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}

	c.order.MoveToFront(el)
	return e.value, true
}

// Set stores a value. If the cache is at capacity, the least recently
// used entry is evicted first.
func (c *TTLCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := time.Now().Add(c.ttl)

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}

	if len(c.items) >= c.maxSize {
		if back := c.order.Back(); back != nil {
			c.order.Remove(back)
			delete(c.items, back.Value.(*entry).key)
		}
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: value, expiresAt: expires})
}

// Invalidate removes a specific key.
func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// InvalidatePrefix removes every key beginning with prefix. Used for
// tenant-scoped invalidation where keys carry a tenant prefix.
func (c *TTLCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(el)
			delete(c.items, key)
		}
	}
}

// InvalidateAll removes all entries.
func (c *TTLCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.maxSize)
	c.order.Init()
}

// Size returns the number of entries currently in the cache, including
// expired ones not yet lazily evicted.
func (c *TTLCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
