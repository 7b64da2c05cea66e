package location

import "sync"

// Coordinates is a latitude/longitude pair attached to a capture window.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Provider yields a best-effort, possibly-stale coordinate snapshot. The
// second return value is false when no fix is available; callers must treat
// the location as optional.
type Provider interface {
	Current() (Coordinates, bool)
}

// Static always returns the same fixed coordinates, typically from
// configuration. Useful for stationary deployments.
type Static struct {
	Coords Coordinates
}

// Current implements Provider.
func (s Static) Current() (Coordinates, bool) {
	return s.Coords, true
}

// Nop reports that no location is available.
type Nop struct{}

// Current implements Provider.
func (Nop) Current() (Coordinates, bool) {
	return Coordinates{}, false
}

// Cached is a Provider whose snapshot an external collaborator (a platform
// location callback, for example) updates asynchronously. Reads and writes
// are safe for concurrent use.
type Cached struct {
	mu     sync.RWMutex
	coords Coordinates
	valid  bool
}

// Update replaces the cached snapshot.
func (c *Cached) Update(coords Coordinates) {
	c.mu.Lock()
	c.coords = coords
	c.valid = true
	c.mu.Unlock()
}

// Clear invalidates the cached snapshot.
func (c *Cached) Clear() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Current implements Provider.
func (c *Cached) Current() (Coordinates, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coords, c.valid
}
