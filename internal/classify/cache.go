package classify

import (
	"container/list"
	"sync"
	"time"
)

type cacheItem struct {
	key     string
	cls     Classification
	expires time.Time
}

// flowCache is a size-bounded LRU with per-entry TTL. Bounding the cache caps
// memory under high flow cardinality (port scans); TTL keeps noisy long-lived
// flows from pinning a stale verdict.
type flowCache struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	ll        *list.List
	items     map[string]*list.Element
	evictions int64
}

func newFlowCache(capacity int, ttl time.Duration) *flowCache {
	return &flowCache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *flowCache) Get(key string) (Classification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return Classification{}, false
	}

	item := elem.Value.(*cacheItem)
	if time.Now().After(item.expires) {
		c.ll.Remove(elem)
		delete(c.items, key)
		return Classification{}, false
	}

	c.ll.MoveToFront(elem)
	return item.cls, true
}

func (c *flowCache) Put(key string, cls Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*cacheItem)
		item.cls = cls
		item.expires = time.Now().Add(c.ttl)
		c.ll.MoveToFront(elem)
		return
	}

	if c.ll.Len() >= c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheItem).key)
			c.evictions++
		}
	}

	elem := c.ll.PushFront(&cacheItem{
		key:     key,
		cls:     cls,
		expires: time.Now().Add(c.ttl),
	})
	c.items[key] = elem
}

func (c *flowCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *flowCache) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}
