package uplink

import "github.com/kubev2v/host-mover/internal/snapshot"

// Cache memoizes resolver results per host/switch pair. It has a fixed
// capacity with FIFO eviction and is passed explicitly into each resolve call
// rather than living in package state.
type Cache struct {
	capacity int
	order    []string
	entries  map[string][]snapshot.UplinkBinding
}

func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string][]snapshot.UplinkBinding, capacity),
	}
}

func (c *Cache) Get(key string) ([]snapshot.UplinkBinding, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *Cache) Put(key string, bindings []snapshot.UplinkBinding) {
	if _, exists := c.entries[key]; !exists {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = bindings
}

func (c *Cache) Len() int {
	return len(c.entries)
}
