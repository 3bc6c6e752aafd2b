package sensor

import (
	"sync"
	"time"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

// Reading is one decoded value.
type Reading struct {
	Value float64
	At    time.Time
}

type entry struct {
	last     Reading
	previous Reading
	hasLast  bool
	hasPrev  bool
}

// Cache holds the last and previous reading per attribute.
type Cache struct {
	mu      sync.RWMutex
	entries map[gatt.AttributeID]*entry
	now     func() time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[gatt.AttributeID]*entry),
		now:     time.Now,
	}
}

// Update stores value as the latest reading for attr, shifting the old latest
// into previous. changed is true when there was no earlier reading or the
// value differs from it.
func (c *Cache) Update(attr gatt.AttributeID, value float64) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[attr]
	if !ok {
		e = &entry{}
		c.entries[attr] = e
	}

	changed = !e.hasLast || e.last.Value != value
	if e.hasLast {
		e.previous = e.last
		e.hasPrev = true
	}
	e.last = Reading{Value: value, At: c.now()}
	e.hasLast = true
	return changed
}

// Last returns the latest reading for attr.
func (c *Cache) Last(attr gatt.AttributeID) (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[attr]
	if !ok || !e.hasLast {
		return Reading{}, false
	}
	return e.last, true
}

// Previous returns the reading before the latest one.
func (c *Cache) Previous(attr gatt.AttributeID) (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[attr]
	if !ok || !e.hasPrev {
		return Reading{}, false
	}
	return e.previous, true
}

// Snapshot returns the latest value of every attribute.
func (c *Cache) Snapshot() map[gatt.AttributeID]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[gatt.AttributeID]float64, len(c.entries))
	for id, e := range c.entries {
		if e.hasLast {
			out[id] = e.last.Value
		}
	}
	return out
}
