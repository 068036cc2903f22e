package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/metrics"
)

// Sizer reports the approximate memory held by a cached value.
type Sizer interface {
	SizeEstimate() int64
}

type Entry struct {
	Key    string
	Value  any
	Expiry time.Time
	Size   int64
}

func (e Entry) expired(now time.Time) bool {
	return !e.Expiry.IsZero() && !now.Before(e.Expiry)
}

// Cache is the request cache for decoded tile payloads. Entries leave it
// either when their TTL elapsed and Purge runs, or when an insertion pushes
// it over its entry count or byte budget, least recently used first.
type Cache struct {
	mu       sync.Mutex
	capacity int
	maxSize  int64
	size     int64
	ll       *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New builds a cache. A zero capacity or max size disables that bound.
func New(cfg config.Cache, opts ...Option) *Cache {
	c := &Cache{
		capacity: cfg.Capacity,
		maxSize:  cfg.MaxSize,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	e := el.Value.(*Entry)
	if e.expired(c.now()) {
		c.remove(el)
		metrics.CacheEvictions.WithLabelValues("ttl").Inc()
		metrics.CacheMisses.Inc()
		return nil, false
	}
	c.ll.MoveToFront(el)
	metrics.CacheHits.Inc()
	return e.Value, true
}

// Set stores value under key. A ttl <= 0 never expires.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &Entry{Key: key, Value: value, Size: sizeOf(value)}
	if ttl > 0 {
		e.Expiry = c.now().Add(ttl)
	}

	if el, ok := c.items[key]; ok {
		c.size -= el.Value.(*Entry).Size
		el.Value = e
		c.ll.MoveToFront(el)
	} else {
		c.items[key] = c.ll.PushFront(e)
	}
	c.size += e.Size

	c.evict()
	c.report()
}

func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(el)
	c.report()
	return true
}

// Purge drops expired entries only and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*Entry).expired(now) {
			c.remove(el)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("ttl").Add(float64(removed))
		c.report()
	}
	return removed
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	clear(c.items)
	c.size = 0
	c.report()
}

// Entries lists the entries, most recently used first.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Entry))
	}
	return out
}

func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Cache) Capacity() int {
	return c.capacity
}

func (c *Cache) MaxSize() int64 {
	return c.maxSize
}

func (c *Cache) over() bool {
	return (c.capacity > 0 && c.ll.Len() > c.capacity) ||
		(c.maxSize > 0 && c.size > c.maxSize)
}

// evict drops least recently used entries until the cache fits again. The
// entry just inserted sits at the front and goes last.
func (c *Cache) evict() {
	for c.over() {
		el := c.ll.Back()
		if el == nil {
			return
		}
		c.remove(el)
		metrics.CacheEvictions.WithLabelValues("capacity").Inc()
	}
}

func (c *Cache) remove(el *list.Element) {
	e := c.ll.Remove(el).(*Entry)
	delete(c.items, e.Key)
	c.size -= e.Size
}

func (c *Cache) report() {
	metrics.CacheEntries.Set(float64(c.ll.Len()))
	metrics.CacheBytes.Set(float64(c.size))
}

func sizeOf(v any) int64 {
	switch v := v.(type) {
	case Sizer:
		return v.SizeEstimate()
	case []byte:
		return int64(len(v))
	case string:
		return int64(len(v))
	default:
		return 0
	}
}
