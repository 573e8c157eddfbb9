package mesh

import (
	"sync"
	"time"
)

// Cache tracks which message IDs this node has already seen. It exists only
// to suppress re-processing and re-broadcast loops; it is not a message log.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Message
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Message)}
}

// Register inserts the message if its ID is unseen and reports whether this
// was the first sighting. Check and insert happen under one lock so two
// sessions delivering the same ID concurrently cannot both win.
func (c *Cache) Register(m *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[m.ID]; ok {
		return false
	}
	c.entries[m.ID] = m
	return true
}

func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep evicts entries older than maxAge and returns how many were removed.
func (c *Cache) Sweep(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, m := range c.entries {
		if m.Age() > maxAge {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}
