package admission

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/roundbet/internal/cache/memory"
	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/ledger"
	"github.com/alanyoungcy/roundbet/internal/observability"
	"github.com/alanyoungcy/roundbet/internal/round"
	"github.com/alanyoungcy/roundbet/internal/store/memory"
)

type eventLog struct {
	mu        sync.Mutex
	placed    []domain.BetTotalPayload
	cancelled []domain.BetTotalPayload
	wallets   []domain.Wallet
}

func (e *eventLog) BetPlaced(_ context.Context, _ string, p domain.BetTotalPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.placed = append(e.placed, p)
}

func (e *eventLog) BetCancelled(_ context.Context, _ string, p domain.BetTotalPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, p)
}

func (e *eventLog) WalletUpdated(_ context.Context, w domain.Wallet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wallets = append(e.wallets, w)
}

type fixture struct {
	rounds *memory.RoundStore
	bets   *memory.BetStore
	ledger *ledger.Ledger
	dir    *memory.Directory
	totals *cachemem.TotalsCache
	gate   *round.Gate
	events *eventLog
	ctrl   *Controller
	round  domain.Round
	now    time.Time
}

var defaultCfg = Config{
	MinStake:            100,
	MaxStake:            50_000,
	MaxOpenBetsPerRound: 3,
	RateLimit:           100,
	RateWindow:          time.Minute,
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opened := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		rounds: memory.NewRoundStore(),
		bets:   memory.NewBetStore(),
		dir:    memory.NewDirectory("vip"),
		totals: cachemem.NewTotalsCache(),
		gate:   round.NewGate(),
		events: &eventLog{},
		now:    opened.Add(time.Minute),
	}
	f.ledger = ledger.New(memory.NewWalletStore(), logger)
	f.round = domain.NewRound("r1", 1, domain.DurationClass{
		Name: "5m", Duration: 5 * time.Minute, FreezeWindow: 30 * time.Second,
	}, opened)
	require.NoError(t, f.rounds.Create(context.Background(), f.round))

	f.ctrl = NewController(cfg, Deps{
		Rounds:    f.rounds,
		Bets:      f.bets,
		Ledger:    f.ledger,
		Gate:      f.gate,
		Directory: f.dir,
		Limiter:   cachemem.NewRateLimiter(),
		Totals:    f.totals,
		Events:    f.events,
		Metrics:   observability.NewMetrics(prometheus.NewRegistry()),
	}, logger).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) fund(t *testing.T, user string, amount int64) {
	t.Helper()
	_, err := f.ledger.Deposit(context.Background(), user, domain.ModeReal, amount, "dep-"+user)
	require.NoError(t, err)
}

func (f *fixture) wallet(t *testing.T, user string) domain.Wallet {
	t.Helper()
	w, err := f.ledger.Wallet(context.Background(), user, domain.ModeReal)
	require.NoError(t, err)
	return w
}

func (f *fixture) req(user string, side domain.Side, amount int64) PlaceRequest {
	m, _ := domain.MarketOf(side)
	return PlaceRequest{UserID: user, RoundID: f.round.ID, Market: m, Side: side, Amount: amount, Mode: domain.ModeReal}
}

func (f *fixture) betCount(t *testing.T) int {
	t.Helper()
	bets, err := f.bets.ListByRound(context.Background(), f.round.ID)
	require.NoError(t, err)
	return len(bets)
}

func TestPlaceBet_Accepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg)
	f.fund(t, "alice", 10_000)

	b, err := f.ctrl.PlaceBet(ctx, f.req("alice", domain.SideSell, 1_050))
	require.NoError(t, err)
	assert.Equal(t, domain.BetAccepted, b.Status)
	assert.Equal(t, domain.MarketOuter, b.Market)
	assert.Equal(t, f.now, b.PlacedAt)

	stored, err := f.bets.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b, stored)

	w := f.wallet(t, "alice")
	assert.Equal(t, int64(8_950), w.Available)
	assert.Equal(t, int64(1_050), w.Held)

	hold, err := f.ledger.Entry(ctx, b.ID, domain.PhaseHold)
	require.NoError(t, err)
	assert.Equal(t, int64(1_050), hold.Amount)

	require.Len(t, f.events.placed, 1)
	assert.Equal(t, domain.BetTotalPayload{RoundID: "r1", Market: domain.MarketOuter, Side: domain.SideSell, NewTotal: 1_050}, f.events.placed[0])
	require.Len(t, f.events.wallets, 1)
	assert.Equal(t, int64(1_050), f.events.wallets[0].Held)

	_, err = f.ctrl.PlaceBet(ctx, f.req("alice", domain.SideSell, 200))
	require.NoError(t, err)
	snap, err := f.totals.Snapshot(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_250), snap.Get(domain.SideSell))
}

func TestPlaceBet_FrozenCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg)
	f.fund(t, "bob", 10_000)
	f.now = f.round.FreezeAt

	_, err := f.ctrl.PlaceBet(ctx, f.req("bob", domain.SideBuy, 1_000))
	require.ErrorIs(t, err, domain.ErrRoundFrozen)

	assert.Zero(t, f.betCount(t))
	assert.Equal(t, int64(10_000), f.wallet(t, "bob").Available)
	assert.Zero(t, f.wallet(t, "bob").Held)
	assert.Empty(t, f.events.placed)
}

func TestPlaceBet_RoundStateChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg)
	f.fund(t, "carl", 10_000)

	_, err := f.ctrl.PlaceBet(ctx, PlaceRequest{
		UserID: "carl", RoundID: "nope", Market: domain.MarketOuter, Side: domain.SideBuy, Amount: 500, Mode: domain.ModeReal,
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.rounds.UpdateState(ctx, "r1", domain.RoundOpen, domain.RoundFrozen))
	_, err = f.ctrl.PlaceBet(ctx, f.req("carl", domain.SideBuy, 500))
	require.ErrorIs(t, err, domain.ErrRoundFrozen)

	require.NoError(t, f.rounds.UpdateState(ctx, "r1", domain.RoundFrozen, domain.RoundSettling))
	_, err = f.ctrl.PlaceBet(ctx, f.req("carl", domain.SideBuy, 500))
	require.ErrorIs(t, err, domain.ErrRoundNotOpen)
	assert.Zero(t, f.betCount(t))
}

func TestPlaceBet_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg)
	f.fund(t, "dana", 500)

	_, err := f.ctrl.PlaceBet(ctx, f.req("dana", domain.SideBlue, 501))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Zero(t, f.betCount(t))
	assert.Equal(t, int64(500), f.wallet(t, "dana").Available)
}

func TestPlaceBet_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg)
	f.fund(t, "eve", 1_000_000)
	f.fund(t, "vip", 1_000_000)

	tests := []struct {
		name string
		req  PlaceRequest
		ok   bool
	}{
		{"side outside market", PlaceRequest{UserID: "eve", RoundID: "r1", Market: domain.MarketOuter, Side: domain.SideRed, Amount: 500, Mode: domain.ModeReal}, false},
		{"below minimum", f.req("eve", domain.SideBuy, 99), false},
		{"above cap", f.req("eve", domain.SideBuy, 50_001), false},
		{"unknown mode", PlaceRequest{UserID: "eve", RoundID: "r1", Market: domain.MarketOuter, Side: domain.SideBuy, Amount: 500, Mode: "paper"}, false},
		{"missing user", f.req("", domain.SideBuy, 500), false},
		{"premium beyond payout range", f.req("vip", domain.SideBuy, domain.MaxAmount+1), false},
		{"premium above cap", f.req("vip", domain.SideBuy, 80_000), true},
		{"at cap", f.req("eve", domain.SideSell, 50_000), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctrl.PlaceBet(ctx, tt.req)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestPlaceBet_OpenBetLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg)
	f.fund(t, "finn", 10_000)

	for range 3 {
		_, err := f.ctrl.PlaceBet(ctx, f.req("finn", domain.SideBuy, 100))
		require.NoError(t, err)
	}
	_, err := f.ctrl.PlaceBet(ctx, f.req("finn", domain.SideBuy, 100))
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int64(300), f.wallet(t, "finn").Held)
}

func TestPlaceBet_RateLimited(t *testing.T) {
	ctx := context.Background()
	cfg := defaultCfg
	cfg.RateLimit = 2
	cfg.MaxOpenBetsPerRound = 0
	f := newFixture(t, cfg)
	f.fund(t, "gail", 10_000)

	for range 2 {
		_, err := f.ctrl.PlaceBet(ctx, f.req("gail", domain.SideBuy, 100))
		require.NoError(t, err)
	}
	_, err := f.ctrl.PlaceBet(ctx, f.req("gail", domain.SideBuy, 100))
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 2, f.betCount(t))
}

func TestCancelBet_PremiumGetsExactRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg)
	f.fund(t, "vip", 10_000)

	b, err := f.ctrl.PlaceBet(ctx, f.req("vip", domain.SideHighVol, 2_345))
	require.NoError(t, err)

	got, err := f.ctrl.CancelBet(ctx, "vip", b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BetCancelled, got.Status)

	w := f.wallet(t, "vip")
	assert.Equal(t, int64(10_000), w.Available)
	assert.Zero(t, w.Held)
	assert.Zero(t, w.TotalWon)
	assert.Zero(t, w.TotalLost)

	require.Len(t, f.events.cancelled, 1)
	assert.Zero(t, f.events.cancelled[0].NewTotal)

	_, err = f.ctrl.CancelBet(ctx, "vip", b.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCancelBet_NonPremiumDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg)
	f.fund(t, "hank", 10_000)

	b, err := f.ctrl.PlaceBet(ctx, f.req("hank", domain.SideLowVol, 1_000))
	require.NoError(t, err)
	before := f.wallet(t, "hank")

	_, err = f.ctrl.CancelBet(ctx, "hank", b.ID)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, before, f.wallet(t, "hank"))

	stored, err := f.bets.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BetAccepted, stored.Status)
}

func TestCancelBet_OtherUsersBetDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg)
	f.fund(t, "ida", 10_000)
	b, err := f.ctrl.PlaceBet(ctx, f.req("ida", domain.SideBuy, 1_000))
	require.NoError(t, err)

	_, err = f.ctrl.CancelBet(ctx, "vip", b.ID)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = f.ctrl.CancelBet(ctx, "vip", "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelBet_AfterFreeze(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCfg)
	f.fund(t, "vip", 10_000)
	b, err := f.ctrl.PlaceBet(ctx, f.req("vip", domain.SideBuy, 1_000))
	require.NoError(t, err)

	f.now = f.round.FreezeAt.Add(time.Second)
	_, err = f.ctrl.CancelBet(ctx, "vip", b.ID)
	require.ErrorIs(t, err, domain.ErrRoundFrozen)
	assert.Equal(t, int64(1_000), f.wallet(t, "vip").Held)
}
