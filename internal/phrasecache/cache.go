// Package phrasecache remembers recently served phrases per difficulty level
// so the generator can avoid handing the same phrase out twice in a row.
//
// Each level keeps an insertion-ordered set bounded to a fixed capacity. When
// a level is full the oldest inserted phrase is evicted before the new one is
// stored. The cache is safe for concurrent use; the presence check and the
// insert happen under one lock.
package phrasecache

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	constants "github.com/CodeAndHammer/hearsay/internal/constants"
)

// Stats is a point-in-time view of the cache.
type Stats struct {
	Levels    map[int]int `json:"levels"`
	Evictions int64       `json:"evictions"`
	Resets    int64       `json:"resets"`
}

// Observer receives cache events. Either field may be nil.
type Observer struct {
	OnEvict func(level int)
	OnReset func(level int)
}

type Cache struct {
	mu        sync.Mutex
	capacity  int
	levels    map[int]*orderedmap.OrderedMap[string, struct{}]
	evictions int64
	resets    int64
	observer  Observer
}

type Option func(*Cache)

// WithCapacity bounds each level to n phrases. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Cache) {
		c.observer = o
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		capacity: constants.PhraseCacheCap,
		levels:   make(map[int]*orderedmap.OrderedMap[string, struct{}]),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsUnique records phrase at level and returns true if it was not already
// held there. A phrase already present is left untouched and false is
// returned.
func (c *Cache) IsUnique(level int, phrase string) bool {
	c.mu.Lock()
	set, ok := c.levels[level]
	if !ok {
		set = orderedmap.New[string, struct{}]()
		c.levels[level] = set
	}

	if _, present := set.Get(phrase); present {
		c.mu.Unlock()
		return false
	}

	evicted := false
	if set.Len() >= c.capacity {
		if oldest := set.Oldest(); oldest != nil {
			set.Delete(oldest.Key)
			c.evictions++
			evicted = true
		}
	}
	set.Set(phrase, struct{}{})
	c.mu.Unlock()

	if evicted && c.observer.OnEvict != nil {
		c.observer.OnEvict(level)
	}
	return true
}

// Reset forgets every phrase recorded at level.
func (c *Cache) Reset(level int) {
	c.mu.Lock()
	delete(c.levels, level)
	c.resets++
	c.mu.Unlock()

	if c.observer.OnReset != nil {
		c.observer.OnReset(level)
	}
}

func (c *Cache) Contains(level int, phrase string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.levels[level]
	if !ok {
		return false
	}
	_, present := set.Get(phrase)
	return present
}

func (c *Cache) Len(level int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.levels[level]; ok {
		return set.Len()
	}
	return 0
}

func (c *Cache) Capacity() int {
	return c.capacity
}

// Phrases returns the phrases held at level, oldest first.
func (c *Cache) Phrases(level int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.levels[level]
	if !ok {
		return nil
	}
	out := make([]string, 0, set.Len())
	for pair := set.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	levels := make(map[int]int, len(c.levels))
	for level, set := range c.levels {
		levels[level] = set.Len()
	}
	return Stats{
		Levels:    levels,
		Evictions: c.evictions,
		Resets:    c.resets,
	}
}
