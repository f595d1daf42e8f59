// Package memory provides in-process implementations of the roster cache.
package memory

import (
	"context"
	"sync"

	"github.com/classnotes/teaching-assistant/internal/application/rosters"
)

// RosterCache keeps roster entries in a map. It is safe for concurrent use.
type RosterCache struct {
	mu      sync.RWMutex
	entries map[string]rosters.Entry
}

// NewRosterCache creates an empty cache.
func NewRosterCache() *RosterCache {
	return &RosterCache{entries: make(map[string]rosters.Entry)}
}

// Get returns the entry stored under key.
func (c *RosterCache) Get(_ context.Context, key string) (rosters.Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok, nil
}

// Set stores entry under key, replacing any previous one.
func (c *RosterCache) Set(_ context.Context, key string, entry rosters.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

// Invalidate removes key.
func (c *RosterCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

var _ rosters.Cache = (*RosterCache)(nil)
