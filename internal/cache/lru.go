// Package cache provides the counter stores behind Harrier's decision
// statistics.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRUCache is a thread-safe, size-bounded store of windowed counters.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

type counterEntry struct {
	key       string
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// IncrementCounter atomically increments a counter. A missing or expired
// counter starts a new window of the given length.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*counterEntry)
		if now.Before(entry.expiresAt) {
			entry.count++
			c.order.MoveToFront(elem)
			return entry.count, nil
		}
		c.removeElement(elem)
	}

	c.insert(&counterEntry{key: key, count: 1, expiresAt: now.Add(window)})
	return 1, nil
}

// GetCounter returns the current value of a counter, 0 if absent or expired.
func (c *LRUCache) GetCounter(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return 0, nil
	}

	entry := elem.Value.(*counterEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeElement(elem)
		return 0, nil
	}

	c.order.MoveToFront(elem)
	return entry.count, nil
}

// store overwrites a counter with a known value. Used by the two-phase
// cache to keep a short-lived copy of a remote counter.
func (c *LRUCache) store(key string, count int64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	c.insert(&counterEntry{key: key, count: count, expiresAt: c.now().Add(ttl)})
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) insert(entry *counterEntry) {
	c.items[entry.key] = c.order.PushFront(entry)

	// Evict if over capacity
	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*counterEntry)
	delete(c.items, entry.key)
}

func (c *LRUCache) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}
