package status

import (
	"sync"

	"github.com/raterudder/autarcostatus/pkg/types"
)

// Cache holds the most recent successfully fetched Reading. It is safe for
// concurrent use; the lock is only held while copying the value in or out.
type Cache struct {
	mu      sync.Mutex
	reading types.Reading
	ok      bool
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{}
}

// Write replaces the held Reading.
func (c *Cache) Write(r types.Reading) {
	c.mu.Lock()
	c.reading = r
	c.ok = true
	c.mu.Unlock()
}

// Read returns a copy of the held Reading. The bool is false until the first
// Write.
func (c *Cache) Read() (types.Reading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reading, c.ok
}
