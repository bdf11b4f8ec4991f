package service

import (
	"sync"

	"clinicaletl/internal/services/concept/domain"
)

// cache is a bounded read-through map of stored mappings. When full the
// oldest entry is evicted first; mappings never change once written
type cache struct {
	mu    sync.RWMutex
	max   int
	data  map[domain.Key]int64
	order []domain.Key // insertion ring, head is the oldest key
	head  int
}

func newCache(max int) *cache {
	return &cache{max: max, data: make(map[domain.Key]int64)}
}

func (c *cache) get(k domain.Key) (int64, bool) {
	if c.max <= 0 {
		return 0, false
	}
	c.mu.RLock()
	v, ok := c.data[k]
	c.mu.RUnlock()
	return v, ok
}

func (c *cache) put(k domain.Key, v int64) {
	if c.max <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[k]; ok {
		c.data[k] = v
		return
	}
	if len(c.order) < c.max {
		c.order = append(c.order, k)
	} else {
		delete(c.data, c.order[c.head])
		c.order[c.head] = k
		c.head = (c.head + 1) % c.max
	}
	c.data[k] = v
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *cache) reset() {
	c.mu.Lock()
	c.data = make(map[domain.Key]int64, c.max)
	c.order, c.head = nil, 0
	c.mu.Unlock()
}
