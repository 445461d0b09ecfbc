package settlement

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

type recorder struct {
	mu      sync.Mutex
	states  []domain.RoundState
	results []domain.SettlementResult
	bets    map[string][]domain.BetSettledPayload
	wallets map[string]domain.Wallet
}

func newRecorder() *recorder {
	return &recorder{bets: map[string][]domain.BetSettledPayload{}, wallets: map[string]domain.Wallet{}}
}

func (r *recorder) RoundStateChanged(_ context.Context, rd domain.Round) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, rd.State)
}

func (r *recorder) RoundSettled(_ context.Context, res domain.SettlementResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) BetSettled(_ context.Context, userID string, p domain.BetSettledPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bets[userID] = append(r.bets[userID], p)
}

func (r *recorder) WalletUpdated(_ context.Context, w domain.Wallet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[w.UserID] = w
}

type alertLog struct {
	mu     sync.Mutex
	events []string
}

func (a *alertLog) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

type fixture struct {
	rounds  *memory.RoundStore
	bets    *memory.BetStore
	audit   *memory.AuditStore
	ledger  *ledger.Ledger
	locks   *cachemem.LockManager
	rec     *recorder
	alerts  *alertLog
	engine  *Engine
	now     time.Time
	class   domain.DurationClass
	seq     int64
	counter int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		rounds: memory.NewRoundStore(),
		bets:   memory.NewBetStore(),
		audit:  memory.NewAuditStore(),
		locks:  cachemem.NewLockManager(),
		rec:    newRecorder(),
		alerts: &alertLog{},
		now:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		class:  domain.DurationClass{Name: "5m", Duration: 5 * time.Minute, FreezeWindow: 30 * time.Second},
	}
	f.ledger = ledger.New(memory.NewWalletStore(), logger)
	f.engine = f.newEngine(f.bets, logger)
	return f
}

func (f *fixture) newEngine(bets domain.BetStore, logger *slog.Logger) *Engine {
	return NewEngine(Deps{
		Rounds:  f.rounds,
		Bets:    bets,
		Ledger:  f.ledger,
		Gate:    round.NewGate(),
		Locks:   f.locks,
		Totals:  cachemem.NewTotalsCache(),
		Audit:   f.audit,
		Events:  f.rec,
		Alerter: f.alerts,
		Metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}, logger).WithClock(func() time.Time { return f.now })
}

// frozenRound creates a round that has passed its freeze deadline.
func (f *fixture) frozenRound(t *testing.T, id string) domain.Round {
	t.Helper()
	ctx := context.Background()
	f.seq++
	r := domain.NewRound(id, f.seq, f.class, f.now.Add(-f.class.Duration))
	require.NoError(t, f.rounds.Create(ctx, r))
	require.NoError(t, f.rounds.UpdateState(ctx, id, domain.RoundOpen, domain.RoundFrozen))
	r.State = domain.RoundFrozen
	return r
}

// place funds the user, holds the stake and records an accepted bet.
func (f *fixture) place(t *testing.T, roundID, user string, side domain.Side, stake int64) domain.Bet {
	t.Helper()
	ctx := context.Background()
	f.counter++
	m, _ := domain.MarketOf(side)
	b := domain.Bet{
		ID:       user + "-" + string(side) + "-" + string(rune('a'+f.counter)),
		UserID:   user,
		RoundID:  roundID,
		Market:   m,
		Side:     side,
		Stake:    stake,
		Mode:     domain.ModeReal,
		Status:   domain.BetAccepted,
		PlacedAt: f.now.Add(-time.Minute),
	}
	_, err := f.ledger.Deposit(ctx, user, domain.ModeReal, stake, "dep-"+b.ID)
	require.NoError(t, err)
	_, err = f.ledger.Hold(ctx, user, domain.ModeReal, stake, b.ID)
	require.NoError(t, err)
	require.NoError(t, f.bets.Create(ctx, b))
	return b
}

func (f *fixture) wallet(t *testing.T, user string) domain.Wallet {
	t.Helper()
	w, err := f.ledger.Wallet(context.Background(), user, domain.ModeReal)
	require.NoError(t, err)
	return w
}

// seedNonTied covers the middle and inner pairs without ties.
func (f *fixture) seedNonTied(t *testing.T, roundID string) {
	f.place(t, roundID, "m1", domain.SideBlue, 500)
	f.place(t, roundID, "m2", domain.SideRed, 700)
	f.place(t, roundID, "i1", domain.SideHighVol, 300)
	f.place(t, roundID, "i2", domain.SideLowVol, 200)
}

func TestEngine_Settle_MinorityWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.frozenRound(t, "r1")
	f.seedNonTied(t, r.ID)
	f.place(t, r.ID, "buyer", domain.SideBuy, 10_000)
	f.place(t, r.ID, "seller", domain.SideSell, 1_000)
	f.place(t, r.ID, "seller2", domain.SideSell, 3_000)
	f.place(t, r.ID, "undecided", domain.SideIndecision, 1_000)

	res, err := f.engine.Settle(ctx, r.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.EventSchemaVersion, res.SchemaVersion)
	assert.False(t, res.IndecisionTriggered)
	assert.Equal(t, domain.SideSell, res.OuterWinner)
	assert.Equal(t, domain.SideBlue, res.MiddleWinner)
	assert.Equal(t, domain.SideLowVol, res.InnerWinner)
	assert.Equal(t, int64(4_000), res.Totals.Get(domain.SideSell))

	seller := f.wallet(t, "seller")
	assert.Equal(t, int64(2_000), seller.Available)
	assert.Zero(t, seller.Held)
	assert.Equal(t, int64(1_000), seller.TotalWon)

	buyer := f.wallet(t, "buyer")
	assert.Zero(t, buyer.Available)
	assert.Zero(t, buyer.Held)
	assert.Equal(t, int64(10_000), buyer.TotalLost)

	assert.Zero(t, f.wallet(t, "undecided").Available)

	stored, err := f.rounds.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSettled())
	assert.Equal(t, domain.SideSell, stored.OuterWinner)

	require.Len(t, f.rec.results, 1)
	assert.Equal(t, []domain.RoundState{domain.RoundSettling, domain.RoundSettled}, f.rec.states)
	assert.Equal(t, int64(2_000), f.rec.wallets["seller"].Available)
	require.Len(t, f.rec.bets["buyer"], 1)
	assert.Equal(t, domain.BetLost, f.rec.bets["buyer"][0].Status)

	var sellerPayout domain.UserPayout
	for _, p := range res.Payouts {
		if p.UserID == "seller" {
			sellerPayout = p
		}
	}
	assert.Equal(t, domain.UserPayout{UserID: "seller", Mode: domain.ModeReal, Staked: 1_000, Payout: 2_000, Delta: 1_000}, sellerPayout)
}

func TestEngine_Settle_IndecisionOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.frozenRound(t, "r1")
	f.place(t, r.ID, "a", domain.SideBuy, 10_000)
	f.place(t, r.ID, "b", domain.SideSell, 10_000)
	f.place(t, r.ID, "c", domain.SideBlue, 5_000)
	f.place(t, r.ID, "d", domain.SideRed, 3_000)
	f.place(t, r.ID, "e", domain.SideIndecision, 700)

	res, err := f.engine.Settle(ctx, r.ID)
	require.NoError(t, err)

	assert.True(t, res.IndecisionTriggered)
	assert.Empty(t, res.OuterWinner)
	assert.Empty(t, res.MiddleWinner)
	assert.Empty(t, res.InnerWinner)
	assert.Equal(t, int64(1_400), f.wallet(t, "e").Available)
	for _, u := range []string{"a", "b", "c", "d"} {
		w := f.wallet(t, u)
		assert.Zero(t, w.Available, u)
		assert.Zero(t, w.Held, u)
	}
}

func TestEngine_Settle_ReplayIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.frozenRound(t, "r1")
	f.seedNonTied(t, r.ID)
	f.place(t, r.ID, "buyer", domain.SideBuy, 100)
	f.place(t, r.ID, "seller", domain.SideSell, 40)

	first, err := f.engine.Settle(ctx, r.ID)
	require.NoError(t, err)
	before := f.wallet(t, "buyer")

	second, err := f.engine.Settle(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, before, f.wallet(t, "buyer"))
	assert.Equal(t, int64(80), f.wallet(t, "seller").Available)
	assert.Len(t, f.rec.results, 1, "replay must not re-broadcast")

	viaResult, err := f.engine.Result(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, first, viaResult)
}

func TestEngine_Settle_ResumesAfterCrash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.frozenRound(t, "r1")
	f.seedNonTied(t, r.ID)
	f.place(t, r.ID, "buyer", domain.SideBuy, 100)
	seller := f.place(t, r.ID, "seller", domain.SideSell, 40)

	// Simulate a crash after the seller's bet was resolved and committed.
	require.NoError(t, f.rounds.UpdateState(ctx, r.ID, domain.RoundFrozen, domain.RoundSettling))
	_, err := f.bets.Resolve(ctx, seller.ID, domain.BetWon, 80, f.now)
	require.NoError(t, err)
	_, _, err = f.ledger.CommitWin(ctx, "seller", domain.ModeReal, 40, 80, seller.ID)
	require.NoError(t, err)

	res, err := f.engine.Settle(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SideSell, res.OuterWinner)
	assert.Equal(t, int64(80), f.wallet(t, "seller").Available)
	assert.Equal(t, int64(100), f.wallet(t, "buyer").TotalLost)

	bets, err := f.bets.ListByRound(ctx, r.ID)
	require.NoError(t, err)
	for _, b := range bets {
		assert.True(t, b.Status.Terminal(), b.ID)
	}
}

func TestEngine_Settle_IgnoresCancelledBets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.frozenRound(t, "r1")
	f.seedNonTied(t, r.ID)
	f.place(t, r.ID, "buyer", domain.SideBuy, 100)
	f.place(t, r.ID, "seller", domain.SideSell, 40)
	big := f.place(t, r.ID, "whale", domain.SideSell, 10_000)
	require.NoError(t, f.bets.Cancel(ctx, big.ID, f.now))
	_, err := f.ledger.Release(ctx, "whale", domain.ModeReal, 10_000, big.ID)
	require.NoError(t, err)

	res, err := f.engine.Settle(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SideSell, res.OuterWinner)
	assert.Equal(t, int64(10_000), f.wallet(t, "whale").Available)

	got, err := f.bets.GetByID(ctx, big.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BetCancelled, got.Status)
}

func TestEngine_Settle_ReleasesCancelledBetStillHeld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.frozenRound(t, "r1")
	f.seedNonTied(t, r.ID)
	f.place(t, r.ID, "buyer", domain.SideBuy, 100)
	f.place(t, r.ID, "seller", domain.SideSell, 40)
	// Cancelled, but the release never happened.
	big := f.place(t, r.ID, "whale", domain.SideSell, 10_000)
	require.NoError(t, f.bets.Cancel(ctx, big.ID, f.now))

	_, err := f.engine.Settle(ctx, r.ID)
	require.NoError(t, err)

	w := f.wallet(t, "whale")
	assert.Zero(t, w.Held)
	assert.Equal(t, int64(10_000), w.Available)
	assert.Equal(t, w, f.rec.wallets["whale"])

	entry, err := f.ledger.Entry(ctx, big.ID, domain.PhaseSettle)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryRelease, entry.Kind)
	assert.Equal(t, int64(10_000), entry.Amount)
}

func TestEngine_Settle_CancelledBetCommittedIsInconsistent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.frozenRound(t, "r1")
	f.seedNonTied(t, r.ID)
	f.place(t, r.ID, "buyer", domain.SideBuy, 100)
	b := f.place(t, r.ID, "seller", domain.SideSell, 40)
	// The stake was consumed as a loss, yet the bet row says cancelled.
	_, _, err := f.ledger.CommitLoss(ctx, "seller", domain.ModeReal, 40, b.ID)
	require.NoError(t, err)
	require.NoError(t, f.bets.Cancel(ctx, b.ID, f.now))

	_, err = f.engine.Settle(ctx, r.ID)
	require.ErrorIs(t, err, domain.ErrSettlementInconsistency)
	assert.Contains(t, f.alerts.events, AlertInconsistency)

	stored, err := f.rounds.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundSettling, stored.State)
}

// cancelBeforeResolve cancels one bet just before settlement resolves it,
// as an admission in another process voiding a late bet would.
type cancelBeforeResolve struct {
	*memory.BetStore
	target string
}

func (s *cancelBeforeResolve) Resolve(ctx context.Context, id string, status domain.BetStatus, payout int64, at time.Time) (bool, error) {
	if id == s.target {
		if err := s.BetStore.Cancel(ctx, id, at); err != nil {
			return false, err
		}
	}
	return s.BetStore.Resolve(ctx, id, status, payout, at)
}

func TestEngine_Settle_BetVoidedDuringSettlement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.frozenRound(t, "r1")
	f.seedNonTied(t, r.ID)
	f.place(t, r.ID, "buyer", domain.SideBuy, 100)
	late := f.place(t, r.ID, "late", domain.SideSell, 40)

	eng := f.newEngine(&cancelBeforeResolve{BetStore: f.bets, target: late.ID},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := eng.Settle(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundSettled, f.rec.states[len(f.rec.states)-1])

	got, err := f.bets.GetByID(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BetCancelled, got.Status)
	w := f.wallet(t, "late")
	assert.Zero(t, w.Held)
	assert.Equal(t, int64(40), w.Available)
	for _, p := range res.Payouts {
		assert.NotEqual(t, "late", p.UserID)
	}
}

func TestEngine_Settle_LockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.frozenRound(t, "r1")

	unlock, err := f.locks.Acquire(ctx, "settle:"+r.ID, time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = f.engine.Settle(ctx, r.ID)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	stored, err := f.rounds.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundFrozen, stored.State)
}

func TestEngine_Settle_MissingHoldIsInconsistency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.frozenRound(t, "r1")
	f.seedNonTied(t, r.ID)
	f.place(t, r.ID, "buyer", domain.SideBuy, 100)
	// A bet row with no hold behind it.
	require.NoError(t, f.bets.Create(ctx, domain.Bet{
		ID: "orphan", UserID: "ghost", RoundID: r.ID, Market: domain.MarketOuter,
		Side: domain.SideSell, Stake: 40, Mode: domain.ModeReal, Status: domain.BetAccepted, PlacedAt: f.now,
	}))

	_, err := f.engine.Settle(ctx, r.ID)
	require.ErrorIs(t, err, domain.ErrSettlementInconsistency)
	require.ErrorIs(t, err, domain.ErrLedgerCorrupted)

	stored, err := f.rounds.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundSettling, stored.State)
	assert.Contains(t, f.alerts.events, AlertLedger)
	assert.Contains(t, f.alerts.events, AlertInconsistency)
	assert.Empty(t, f.rec.results)

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, AlertInconsistency, entries[0].Event)
}

func TestEngine_Result_UnsettledIsNotFound(t *testing.T) {
	f := newFixture(t)
	r := f.frozenRound(t, "r1")
	_, err := f.engine.Result(context.Background(), r.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
