package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// totalsTTL bounds how long an abandoned round's hash survives.
const totalsTTL = 24 * time.Hour

// TotalsCache implements domain.TotalsCache as one hash per round, keyed by
// side, so every instance serves the same display totals.
type TotalsCache struct {
	c *Client
}

// NewTotalsCache creates a TotalsCache backed by c.
func NewTotalsCache(c *Client) *TotalsCache {
	return &TotalsCache{c: c}
}

func (tc *TotalsCache) Add(ctx context.Context, roundID string, side domain.Side, delta int64) (int64, error) {
	key := tc.c.Key("totals", roundID)
	pipe := tc.c.rdb.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, string(side), delta)
	pipe.Expire(ctx, key, totalsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: totals add %s/%s: %w", roundID, side, err)
	}
	return incr.Val(), nil
}

func (tc *TotalsCache) Snapshot(ctx context.Context, roundID string) (domain.MarketTotals, error) {
	raw, err := tc.c.rdb.HGetAll(ctx, tc.c.Key("totals", roundID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: totals snapshot %s: %w", roundID, err)
	}
	out := make(domain.MarketTotals, len(raw))
	for side, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: totals snapshot %s: side %s: %w", roundID, side, err)
		}
		out[domain.Side(side)] = n
	}
	return out, nil
}

func (tc *TotalsCache) Drop(ctx context.Context, roundID string) error {
	if err := tc.c.rdb.Del(ctx, tc.c.Key("totals", roundID)).Err(); err != nil {
		return fmt.Errorf("redis: totals drop %s: %w", roundID, err)
	}
	return nil
}

var _ domain.TotalsCache = (*TotalsCache)(nil)
