package boundedcache

import "container/list"

// Cache is a generic LRU map.
//
// Cache is not safe for concurrent use; owners guard it with their own
// mutex, which they already hold for the surrounding bookkeeping.
type Cache[K comparable, V any] struct {
	capacity int
	order    *list.List // front = least recently used
	index    map[K]*list.Element
	onEvict  func(K, V)
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithOnEvict registers a callback invoked for every capacity eviction.
// It is not called for explicit Delete.
func WithOnEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

// New creates a cache holding at most capacity entries.
//
// A capacity ≤ 0 yields a cache on which Set is a no-op. Callers that care
// validate the capacity themselves.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[K]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set inserts or updates key and marks it most recently used.
func (c *Cache[K, V]) Set(key K, value V) {
	if c.capacity <= 0 {
		return
	}
	if el, ok := c.index[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.order.MoveToBack(el)
		return
	}

	c.index[key] = c.order.PushBack(&entry[K, V]{key: key, value: value})
	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
}

// Get returns the value for key without changing its recency.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	el, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*entry[K, V]).value, true
}

// Touch marks key most recently used. Returns false if key is absent.
func (c *Cache[K, V]) Touch(key K) bool {
	el, ok := c.index[key]
	if !ok {
		return false
	}
	c.order.MoveToBack(el)
	return true
}

// Delete removes key. Returns false if key was absent.
func (c *Cache[K, V]) Delete(key K) bool {
	el, ok := c.index[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.index, key)
	return true
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	return c.order.Len()
}

// Cap returns the configured capacity.
func (c *Cache[K, V]) Cap() int {
	return c.capacity
}

// Oldest returns the least recently used entry.
func (c *Cache[K, V]) Oldest() (K, V, bool) {
	el := c.order.Front()
	if el == nil {
		var (
			k K
			v V
		)
		return k, v, false
	}
	e := el.Value.(*entry[K, V])
	return e.key, e.value, true
}

// Keys returns all keys from least to most recently used.
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// Range calls fn for each entry from least to most recently used until fn
// returns false. fn may Delete the key it is visiting.
func (c *Cache[K, V]) Range(fn func(K, V) bool) {
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry[K, V])
		if !fn(e.key, e.value) {
			return
		}
		el = next
	}
}

func (c *Cache[K, V]) evictOldest() {
	el := c.order.Front()
	if el == nil {
		return
	}
	e := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.index, e.key)
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}
