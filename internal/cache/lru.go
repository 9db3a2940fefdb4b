package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config represents cache configuration.
type Config struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// Stats represents cache statistics.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Expired   uint64  `json:"expired"`
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hit_rate"`
}

type item[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
}

// LRU is a thread-safe LRU map with optional per-entry expiry.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	config    Config
	items     map[K]*list.Element
	evictList *list.List
	stats     Stats
	now       func() time.Time
}

// NewLRU creates an LRU. A nil config gives 1024 entries with no expiry.
func NewLRU[K comparable, V any](config *Config) *LRU[K, V] {
	cfg := Config{MaxEntries: 1024}
	if config != nil {
		cfg = *config
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	return &LRU[K, V]{
		config:    cfg,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		now:       time.Now,
	}
}

// Get returns the live value for key and marks it recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	it := el.Value.(*item[K, V])
	if c.expired(it) {
		c.remove(el)
		c.stats.Expired++
		c.stats.Misses++
		return zero, false
	}
	c.evictList.MoveToFront(el)
	c.stats.Hits++
	return it.value, true
}

// Put stores value under key, evicting the least recently used entry when full.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.config.TTL > 0 {
		expires = c.now().Add(c.config.TTL)
	}

	if el, ok := c.items[key]; ok {
		it := el.Value.(*item[K, V])
		it.value = value
		it.expires = expires
		c.evictList.MoveToFront(el)
		return
	}

	c.items[key] = c.evictList.PushFront(&item[K, V]{key: key, value: value, expires: expires})
	for c.evictList.Len() > c.config.MaxEntries {
		c.remove(c.evictList.Back())
		c.stats.Evictions++
	}
}

// Delete removes key. It reports whether an entry was present.
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if ok {
		c.remove(el)
	}
	return ok
}

// DeleteFunc removes every entry for which match returns true and returns
// the number removed.
func (c *LRU[K, V]) DeleteFunc(match func(K, V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for el := c.evictList.Front(); el != nil; {
		next := el.Next()
		it := el.Value.(*item[K, V])
		if match(it.key, it.value) {
			c.remove(el)
			n++
		}
		el = next
	}
	return n
}

// Purge removes every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element)
	c.evictList.Init()
}

// Len returns the number of entries, including expired ones not yet collected.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Stats returns a snapshot of the statistics.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = c.evictList.Len()
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *LRU[K, V]) expired(it *item[K, V]) bool {
	return !it.expires.IsZero() && !c.now().Before(it.expires)
}

func (c *LRU[K, V]) remove(el *list.Element) {
	it := c.evictList.Remove(el).(*item[K, V])
	delete(c.items, it.key)
}
