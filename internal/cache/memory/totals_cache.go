// Package memory implements the domain cache interfaces in process, for
// single-instance deployments and tests where Redis is not configured.
package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// TotalsCache implements domain.TotalsCache. Reads take a shared lock only
// long enough to copy the map, so display reads never wait on admission.
type TotalsCache struct {
	mu     sync.RWMutex
	rounds map[string]domain.MarketTotals
}

// NewTotalsCache creates an empty TotalsCache.
func NewTotalsCache() *TotalsCache {
	return &TotalsCache{rounds: make(map[string]domain.MarketTotals)}
}

func (c *TotalsCache) Add(_ context.Context, roundID string, side domain.Side, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.rounds[roundID]
	if !ok {
		t = make(domain.MarketTotals)
		c.rounds[roundID] = t
	}
	t[side] += delta
	return t[side], nil
}

func (c *TotalsCache) Snapshot(_ context.Context, roundID string) (domain.MarketTotals, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.rounds[roundID]
	if !ok {
		return domain.MarketTotals{}, nil
	}
	return t.Clone(), nil
}

func (c *TotalsCache) Drop(_ context.Context, roundID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rounds, roundID)
	return nil
}

var _ domain.TotalsCache = (*TotalsCache)(nil)
