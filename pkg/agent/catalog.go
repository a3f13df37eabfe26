package agent

import (
	"fmt"
	"sync"

	"github.com/harun/nanobot/pkg/memory"
)

// Catalog holds the agent profiles, in configuration order
type Catalog struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	order    []string
}

// NewCatalog creates a catalog. The built-in general assistant is added when
// no profile is given.
func NewCatalog(profiles ...Profile) (*Catalog, error) {
	if len(profiles) == 0 {
		profiles = []Profile{DefaultProfile()}
	}

	c := &Catalog{profiles: make(map[string]Profile)}
	for _, p := range profiles {
		if err := c.Put(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Put adds or replaces a profile
func (c *Catalog) Put(p Profile) error {
	if p.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = DefaultMaxIterations
	}
	if p.ContextWindow <= 0 {
		p.ContextWindow = memory.DefaultContextWindow
	}
	if p.Name == "" {
		p.Name = p.ID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.profiles[p.ID]; !exists {
		c.order = append(c.order, p.ID)
	}
	c.profiles[p.ID] = p
	return nil
}

// Get returns the enabled profile with the given id
func (c *Catalog) Get(id string) (Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.profiles[id]
	if !ok || !p.Enabled {
		return Profile{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return p, nil
}

// Default returns the general assistant, or the first enabled profile when
// it is missing or disabled.
func (c *Catalog) Default() (Profile, error) {
	if p, err := c.Get(DefaultAgentID); err == nil {
		return p, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, id := range c.order {
		if p := c.profiles[id]; p.Enabled {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: no enabled agent", ErrAgentNotFound)
}

// List returns every profile, enabled or not
func (c *Catalog) List() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Profile, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.profiles[id])
	}
	return out
}
