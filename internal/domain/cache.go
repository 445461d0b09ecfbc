package domain

import (
	"context"
	"time"
)

// TotalsCache keeps a live, possibly stale copy of per-side stake totals for
// display. It is never used as settlement input.
type TotalsCache interface {
	Add(ctx context.Context, roundID string, side Side, delta int64) (int64, error)
	Snapshot(ctx context.Context, roundID string) (MarketTotals, error)
	Drop(ctx context.Context, roundID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
