package memory

import (
	"context"
	"sync"
)

// Directory is a static premium-tier lookup, seeded from configuration.
type Directory struct {
	mu      sync.RWMutex
	premium map[string]bool
}

// NewDirectory creates a Directory that treats the given users as premium.
func NewDirectory(premium ...string) *Directory {
	d := &Directory{premium: make(map[string]bool, len(premium))}
	for _, id := range premium {
		d.premium[id] = true
	}
	return d
}

// SetPremium grants or revokes the premium tier.
func (d *Directory) SetPremium(userID string, premium bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if premium {
		d.premium[userID] = true
		return
	}
	delete(d.premium, userID)
}

func (d *Directory) IsPremium(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.premium[userID], nil
}
