package eventstore

import (
	"container/list"
	"sync"
	"time"
)

// defaultCacheCapacity bounds the LRU when the caller doesn't specify one.
const defaultCacheCapacity = 10000

// cacheEntry is the dedup-relevant slice of a stored event: just enough to
// answer "is this ID already accepted, and when" without holding the full
// event in memory.
type cacheEntry struct {
	id         string
	orgID      string
	receivedAt time.Time
}

// lruCache is a bounded, mutex-protected cache mapping accepted event IDs
// to their org and receivedAt. It fronts the persistent store for dedup
// checks; entries are authoritative only when they reflect a confirmed
// accepted write, so a cache miss always falls through to the database
// rather than being treated as "definitely not a duplicate".
type lruCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}

	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *lruCache) get(id string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return cacheEntry{}, false
	}

	c.order.MoveToFront(el)

	return el.Value.(cacheEntry), true //nolint:forcetypeassert
}

func (c *lruCache) put(entry cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[entry.id]; ok {
		el.Value = entry
		c.order.MoveToFront(el)

		return
	}

	el := c.order.PushFront(entry)
	c.items[entry.id] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)

			evicted, _ := oldest.Value.(cacheEntry)
			delete(c.items, evicted.id)
		}
	}
}
