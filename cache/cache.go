package cache

import (
	"container/list"
	"expvar"
)

// cacheEntry holds the key and value for a cache item.
type cacheEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a fixed-size least-recently-used cache.
//
// LRU performs no locking of its own. The store only touches it while
// holding its exclusive lock.
type LRU[K comparable, V any] struct {
	capacity   int
	lruList    *list.List
	cacheItems map[K]*list.Element
	onEvicted  func(key K, value V) // called for every entry dropped by eviction, Remove or Clear

	hits   *expvar.Int
	misses *expvar.Int
}

// NewLRU creates a cache holding at most capacity entries. A capacity <= 0
// disables caching.
func NewLRU[K comparable, V any](capacity int, onEvicted func(key K, value V)) *LRU[K, V] {
	return &LRU[K, V]{
		capacity:   capacity,
		lruList:    list.New(),
		cacheItems: make(map[K]*list.Element),
		onEvicted:  onEvicted,
	}
}

func (c *LRU[K, V]) SetMetrics(hits, misses *expvar.Int) {
	c.hits = hits
	c.misses = misses
}

// Get retrieves a value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (value V, ok bool) {
	if elem, ok := c.cacheItems[key]; ok {
		if c.hits != nil {
			c.hits.Add(1)
		}
		c.lruList.MoveToFront(elem)
		return elem.Value.(*cacheEntry[K, V]).value, true
	}
	if c.misses != nil && c.capacity > 0 {
		c.misses.Add(1)
	}
	return value, false
}

// Put adds or replaces a value, evicting the least recently used entry when
// the cache is full.
func (c *LRU[K, V]) Put(key K, value V) {
	if c.capacity <= 0 {
		return
	}
	if elem, ok := c.cacheItems[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*cacheEntry[K, V]).value = value
		return
	}
	if c.lruList.Len() >= c.capacity {
		c.evict()
	}
	c.cacheItems[key] = c.lruList.PushFront(&cacheEntry[K, V]{key: key, value: value})
}

// Remove drops key from the cache.
func (c *LRU[K, V]) Remove(key K) bool {
	elem, ok := c.cacheItems[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Len returns the current number of items in the cache.
func (c *LRU[K, V]) Len() int {
	return c.lruList.Len()
}

// Keys returns the keys from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	keys := make([]K, 0, c.lruList.Len())
	for e := c.lruList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*cacheEntry[K, V]).key)
	}
	return keys
}

// evict removes the least recently used item from the cache.
func (c *LRU[K, V]) evict() {
	if elem := c.lruList.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *LRU[K, V]) removeElement(elem *list.Element) {
	entry := c.lruList.Remove(elem).(*cacheEntry[K, V])
	delete(c.cacheItems, entry.key)
	if c.onEvicted != nil {
		c.onEvicted(entry.key, entry.value)
	}
}

// Clear removes all entries, calling onEvicted for each of them.
func (c *LRU[K, V]) Clear() {
	if c.onEvicted != nil {
		for e := c.lruList.Back(); e != nil; e = e.Prev() {
			entry := e.Value.(*cacheEntry[K, V])
			c.onEvicted(entry.key, entry.value)
		}
	}
	c.lruList = list.New()
	c.cacheItems = make(map[K]*list.Element)
}

// GetHitRate calculates the cache hit rate.
func (c *LRU[K, V]) GetHitRate() float64 {
	var hits, misses float64
	if c.hits != nil {
		hits = float64(c.hits.Value())
	}
	if c.misses != nil {
		misses = float64(c.misses.Value())
	}
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return hits / total
}
