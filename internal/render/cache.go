package render

import (
	"container/list"
	"sync"
)

const cacheCapacity = 100

// cacheEntry is one rendered image keyed by the request hash.
type cacheEntry struct {
	key    string
	bytes  []byte
	format string
	width  int
	height int
}

// lruCache is a fixed-capacity content-addressed cache: hash index plus
// a recency list, both updated under one lock so insert, touch, and
// evict are atomic with respect to each other.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	index    map[string]*list.Element
	order    *list.List // front = most recent
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		index:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// get returns the entry and refreshes its recency.
func (c *lruCache) get(key string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry), true
}

// put inserts or replaces an entry, evicting the oldest at capacity.
// Concurrent renders of the same key may both store; last writer wins.
func (c *lruCache) put(entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[entry.key]; ok {
		elem.Value = entry
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(*cacheEntry).key)
		}
	}

	c.index[entry.key] = c.order.PushFront(entry)
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
