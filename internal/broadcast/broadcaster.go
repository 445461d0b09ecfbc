// Package broadcast publishes round, bet and wallet events to subscribers
// over the signal bus. Delivery is best effort: publish failures are logged
// and counted, never returned, and clients recover by re-polling state.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/observability"
)

const (
	// ChannelRound carries public round and market events.
	ChannelRound = "ch:round"
	// ChannelUserPrefix prefixes each user's private channel.
	ChannelUserPrefix = "ch:user:"
	// StreamSettlements is the durable log of settlement results.
	StreamSettlements = "stream:settlements"
)

// UserChannel returns the private channel for userID.
func UserChannel(userID string) string {
	return ChannelUserPrefix + userID
}

// ClassChannel returns the per-class round channel.
func ClassChannel(class string) string {
	return ChannelRound + ":" + class
}

// Broadcaster wraps payloads in versioned envelopes and publishes them.
type Broadcaster struct {
	bus      domain.SignalBus
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
	perClass bool
}

// New creates a Broadcaster. When perClass is set, public events are also
// published on ClassChannel(class).
func New(bus domain.SignalBus, metrics *observability.Metrics, perClass bool, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		bus:      bus,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "broadcaster")),
		now:      func() time.Time { return time.Now().UTC() },
		perClass: perClass,
	}
}

func (b *Broadcaster) RoundOpened(ctx context.Context, r domain.Round) {
	b.public(ctx, r.Class, domain.EventRoundOpened, roundPayload(r))
}

func (b *Broadcaster) RoundStateChanged(ctx context.Context, r domain.Round) {
	b.public(ctx, r.Class, domain.EventRoundStateChanged, roundPayload(r))
}

func (b *Broadcaster) RoundTick(ctx context.Context, t domain.TickPayload) {
	b.public(ctx, t.Class, domain.EventRoundTick, t)
}

// RoundSettled publishes the result and appends it to the settlement stream.
func (b *Broadcaster) RoundSettled(ctx context.Context, res domain.SettlementResult) {
	data := b.public(ctx, res.Class, domain.EventRoundSettled, res)
	if data == nil {
		return
	}
	if err := b.bus.StreamAppend(ctx, StreamSettlements, data); err != nil {
		b.logger.WarnContext(ctx, "settlement stream append failed",
			slog.String("round_id", res.RoundID),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Broadcaster) BetPlaced(ctx context.Context, class string, p domain.BetTotalPayload) {
	b.public(ctx, class, domain.EventBetPlaced, p)
}

func (b *Broadcaster) BetCancelled(ctx context.Context, class string, p domain.BetTotalPayload) {
	b.public(ctx, class, domain.EventBetCancelled, p)
}

func (b *Broadcaster) BetSettled(ctx context.Context, userID string, p domain.BetSettledPayload) {
	b.private(ctx, userID, domain.EventBetSettled, p)
}

// WalletUpdated goes to the wallet owner only.
func (b *Broadcaster) WalletUpdated(ctx context.Context, w domain.Wallet) {
	b.private(ctx, w.UserID, domain.EventWalletUpdated, domain.WalletPayload{
		Mode:      w.Mode,
		Available: w.Available,
		Held:      w.Held,
	})
}

// public publishes on the round channel and returns the encoded envelope.
func (b *Broadcaster) public(ctx context.Context, class string, t domain.EventType, payload any) []byte {
	data := b.encode(ctx, t, payload)
	if data == nil {
		return nil
	}
	b.publish(ctx, ChannelRound, t, data)
	if b.perClass && class != "" {
		b.publish(ctx, ClassChannel(class), t, data)
	}
	return data
}

func (b *Broadcaster) private(ctx context.Context, userID string, t domain.EventType, payload any) {
	if userID == "" {
		return
	}
	if data := b.encode(ctx, t, payload); data != nil {
		b.publish(ctx, UserChannel(userID), t, data)
	}
}

func (b *Broadcaster) encode(ctx context.Context, t domain.EventType, payload any) []byte {
	data, err := json.Marshal(domain.Envelope{
		V:       domain.EventSchemaVersion,
		Type:    t,
		TS:      b.now(),
		Payload: payload,
	})
	if err != nil {
		b.metrics.PublishErrors.WithLabelValues(string(t)).Inc()
		b.logger.ErrorContext(ctx, "encode event failed",
			slog.String("type", string(t)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return data
}

func (b *Broadcaster) publish(ctx context.Context, channel string, t domain.EventType, data []byte) {
	if err := b.bus.Publish(ctx, channel, data); err != nil {
		b.metrics.PublishErrors.WithLabelValues(string(t)).Inc()
		b.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("type", string(t)),
			slog.String("error", err.Error()),
		)
		return
	}
	b.metrics.EventsPublished.WithLabelValues(string(t)).Inc()
}

func roundPayload(r domain.Round) domain.RoundPayload {
	return domain.RoundPayload{
		RoundID:     r.ID,
		RoundNumber: r.Sequence,
		Class:       r.Class,
		State:       r.State,
		OpenedAt:    r.OpenedAt,
		FreezeAt:    r.FreezeAt,
		ClosesAt:    r.ClosesAt,
	}
}
