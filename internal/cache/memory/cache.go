// Package memory provides a bounded in-process cache for file documents.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/prn-tf/gridfs-storage/internal/repository"
)

// Cache implements repository.Cache as an LRU with per-entry TTLs.
// Expired entries are skipped on read and swept by a background loop.
type Cache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	lru      *list.List
	maxItems int
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewCache creates a cache holding at most maxItems entries; 0 means unbounded.
// Expired entries are swept every cleanupInterval.
func NewCache(maxItems int, cleanupInterval time.Duration) *Cache {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	c := &Cache{
		items:    make(map[string]*list.Element),
		lru:      list.New(),
		maxItems: maxItems,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go c.sweepLoop(cleanupInterval)
	return c
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry).expired(now) {
			c.removeLocked(el)
		}
		el = prev
	}
}

// Stop ends the sweep loop. The cache stays usable.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Get returns a copy of the value and marks it recently used.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	e := el.Value.(*entry)
	if e.expired(c.now()) {
		c.removeLocked(el)
		return nil, repository.ErrCacheMiss
	}

	c.lru.MoveToFront(el)
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value. A ttl of 0 never expires.
// When full, the least recently used entry is evicted.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{key: key, value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}

	if el, ok := c.items[key]; ok {
		el.Value = e
		c.lru.MoveToFront(el)
		return nil
	}

	if c.maxItems > 0 && c.lru.Len() >= c.maxItems {
		c.removeLocked(c.lru.Back())
	}
	c.items[key] = c.lru.PushFront(e)
	return nil
}

// Delete removes a value by key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	return nil
}

// Exists reports whether an unexpired value is stored under key.
func (c *Cache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	return ok && !el.Value.(*entry).expired(c.now()), nil
}

func (c *Cache) removeLocked(el *list.Element) {
	c.lru.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

var _ repository.Cache = (*Cache)(nil)
