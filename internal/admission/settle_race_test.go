package admission

import (
	"context"
	"fmt"
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
	"github.com/alanyoungcy/roundbet/internal/observability"
	"github.com/alanyoungcy/roundbet/internal/settlement"
	"github.com/alanyoungcy/roundbet/internal/store/memory"
)

type quietSettlement struct{}

func (quietSettlement) RoundStateChanged(context.Context, domain.Round)              {}
func (quietSettlement) RoundSettled(context.Context, domain.SettlementResult)        {}
func (quietSettlement) BetSettled(context.Context, string, domain.BetSettledPayload) {}
func (quietSettlement) WalletUpdated(context.Context, domain.Wallet)                 {}

// engine builds a settlement engine sharing the fixture's stores and gate.
func (f *fixture) engine(bets domain.BetStore) *settlement.Engine {
	return settlement.NewEngine(settlement.Deps{
		Rounds:  f.rounds,
		Bets:    bets,
		Ledger:  f.ledger,
		Gate:    f.gate,
		Locks:   cachemem.NewLockManager(),
		Totals:  f.totals,
		Audit:   memory.NewAuditStore(),
		Events:  quietSettlement{},
		Metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}, slog.New(slog.NewTextHandler(io.Discard, nil))).WithClock(func() time.Time { return f.now })
}

func TestPlaceBet_ConcurrentWithSettle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MinStake: 100})
	eng := f.engine(f.bets)

	const users = 40
	for i := range users {
		f.fund(t, fmt.Sprintf("u%02d", i), 1_000)
	}
	sides := domain.AllSides()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted = map[string]string{}
		rejected = map[string]bool{}
	)
	start := make(chan struct{})
	for i := range users {
		user := fmt.Sprintf("u%02d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			b, err := f.ctrl.PlaceBet(ctx, f.req(user, sides[i%len(sides)], 500))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrRoundNotOpen, user)
				rejected[user] = true
				return
			}
			accepted[user] = b.ID
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		_, err := eng.Settle(ctx, f.round.ID)
		assert.NoError(t, err)
	}()
	close(start)
	wg.Wait()

	assert.Equal(t, users, len(accepted)+len(rejected))
	for user, id := range accepted {
		b, err := f.bets.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, b.Status.Terminal(), "%s bet left %s", user, b.Status)
	}
	for i := range users {
		user := fmt.Sprintf("u%02d", i)
		w := f.wallet(t, user)
		assert.Zero(t, w.Held, user)
		if rejected[user] {
			assert.Equal(t, int64(1_000), w.Available, user)
		}
	}
	assert.Equal(t, len(accepted), f.betCount(t))

	stored, err := f.rounds.GetByID(ctx, f.round.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundSettled, stored.State)
}

// stallingBets blocks ListByRound for one round until released.
type stallingBets struct {
	*memory.BetStore
	roundID string
	entered chan struct{}
	proceed chan struct{}
}

func (s *stallingBets) ListByRound(ctx context.Context, roundID string) ([]domain.Bet, error) {
	if roundID == s.roundID {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.proceed
	}
	return s.BetStore.ListByRound(ctx, roundID)
}

func TestPlaceBet_NextRoundNotBlockedBySettlement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MinStake: 100})
	f.fund(t, "alice", 1_000)

	next := domain.NewRound("r2", 2, domain.DurationClass{
		Name: "5m", Duration: 5 * time.Minute, FreezeWindow: 30 * time.Second,
	}, f.now.Add(-30*time.Second))
	require.NoError(t, f.rounds.Create(ctx, next))

	stall := &stallingBets{
		BetStore: f.bets,
		roundID:  f.round.ID,
		entered:  make(chan struct{}, 1),
		proceed:  make(chan struct{}),
	}
	eng := f.engine(stall)
	settled := make(chan error, 1)
	go func() {
		_, err := eng.Settle(ctx, f.round.ID)
		settled <- err
	}()
	<-stall.entered

	placed := make(chan error, 1)
	go func() {
		req := f.req("alice", domain.SideBuy, 200)
		req.RoundID = next.ID
		_, err := f.ctrl.PlaceBet(ctx, req)
		placed <- err
	}()
	select {
	case err := <-placed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bet on the next round waited for settlement")
	}

	close(stall.proceed)
	require.NoError(t, <-settled)
	assert.Equal(t, int64(200), f.wallet(t, "alice").Held)
}

// closingBets simulates a settler in another process entering SETTLING right
// after the bet row is written.
type closingBets struct {
	*memory.BetStore
	rounds *memory.RoundStore
}

func (s *closingBets) Create(ctx context.Context, b domain.Bet) error {
	if err := s.BetStore.Create(ctx, b); err != nil {
		return err
	}
	return s.rounds.UpdateState(ctx, b.RoundID, domain.RoundOpen, domain.RoundSettling)
}

func TestPlaceBet_VoidsBetWhenRoundClosedAfterInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MinStake: 100})
	f.fund(t, "alice", 1_000)

	ctrl := NewController(Config{MinStake: 100}, Deps{
		Rounds:    f.rounds,
		Bets:      &closingBets{BetStore: f.bets, rounds: f.rounds},
		Ledger:    f.ledger,
		Gate:      f.gate,
		Directory: f.dir,
		Limiter:   cachemem.NewRateLimiter(),
		Totals:    f.totals,
		Events:    f.events,
		Metrics:   observability.NewMetrics(prometheus.NewRegistry()),
	}, slog.New(slog.NewTextHandler(io.Discard, nil))).WithClock(func() time.Time { return f.now })

	_, err := ctrl.PlaceBet(ctx, f.req("alice", domain.SideBuy, 300))
	require.ErrorIs(t, err, domain.ErrRoundNotOpen)

	bets, err := f.bets.ListByRound(ctx, f.round.ID)
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, domain.BetCancelled, bets[0].Status)

	w := f.wallet(t, "alice")
	assert.Zero(t, w.Held)
	assert.Equal(t, int64(1_000), w.Available)
	assert.Empty(t, f.events.placed)

	// Settlement of the closed round accounts for the voided bet.
	res, err := f.engine(f.bets).Settle(ctx, f.round.ID)
	require.NoError(t, err)
	assert.True(t, res.IndecisionTriggered)
	assert.Empty(t, res.Payouts)
}
