// Package cache provides a small thread-safe LRU cache.
//
// The recovery package uses it to hold live database rows while comparing
// recovered records against them, so a large WAL does not pin every row it
// has ever looked up.
package cache

import (
	"container/list"
	"sync"
)

// Cache is a generic LRU cache.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Put(key K, value V)
	Remove(key K)
	Clear()
	Len() int
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
}

// HitRate returns the fraction of lookups that hit, or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config contains cache configuration options.
type Config[K comparable, V any] struct {
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int

	// OnEvict is called when an entry is pushed out by MaxSize.
	OnEvict func(key K, value V)
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

type lruCache[K comparable, V any] struct {
	mu      sync.Mutex
	config  Config[K, V]
	entries map[K]*list.Element
	order   *list.List
	stats   Stats
}

// NewLRU creates an LRU cache with the given configuration.
func NewLRU[K comparable, V any](config Config[K, V]) Cache[K, V] {
	if config.MaxSize < 0 {
		config.MaxSize = 0
	}
	return &lruCache[K, V]{
		config:  config,
		entries: make(map[K]*list.Element),
		order:   list.New(),
	}
}

func (c *lruCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	return el.Value.(*entry[K, V]).value, true
}

func (c *lruCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*entry[K, V]).value = value
		return
	}
	c.entries[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})

	if c.config.MaxSize > 0 && c.order.Len() > c.config.MaxSize {
		oldest := c.order.Back()
		e := c.remove(oldest)
		c.stats.Evictions++
		if c.config.OnEvict != nil {
			c.config.OnEvict(e.key, e.value)
		}
	}
}

func (c *lruCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
}

func (c *lruCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*list.Element)
	c.order.Init()
}

func (c *lruCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *lruCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	s.MaxSize = c.config.MaxSize
	return s
}

func (c *lruCache[K, V]) remove(el *list.Element) *entry[K, V] {
	c.order.Remove(el)
	e := el.Value.(*entry[K, V])
	delete(c.entries, e.key)
	return e
}
