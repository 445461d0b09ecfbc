package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/store/memory"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(memory.NewWalletStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fund(t *testing.T, l *Ledger, user string, amount int64) {
	t.Helper()
	_, err := l.Deposit(context.Background(), user, domain.ModeReal, amount, "dep-"+user)
	require.NoError(t, err)
}

func TestLedger_HoldRelease_Conservation(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	fund(t, l, "alice", 10_000)

	w, err := l.Hold(ctx, "alice", domain.ModeReal, 2_500, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7_500), w.Available)
	assert.Equal(t, int64(2_500), w.Held)
	assert.Equal(t, int64(10_000), w.Available+w.Held)

	w, err = l.Release(ctx, "alice", domain.ModeReal, 2_500, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), w.Available)
	assert.Zero(t, w.Held)
	assert.Zero(t, w.TotalWon)
	assert.Zero(t, w.TotalLost)
}

func TestLedger_Hold_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	fund(t, l, "bob", 500)

	_, err := l.Hold(ctx, "bob", domain.ModeReal, 501, "bet-1")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	w, err := l.Wallet(ctx, "bob", domain.ModeReal)
	require.NoError(t, err)
	assert.Equal(t, int64(500), w.Available)
	assert.Zero(t, w.Held)

	_, err = l.Entry(ctx, "bet-1", domain.PhaseHold)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedger_CommitWin(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	fund(t, l, "carol", 1_000)

	_, err := l.Hold(ctx, "carol", domain.ModeReal, 1_000, "bet-1")
	require.NoError(t, err)

	w, applied, err := l.CommitWin(ctx, "carol", domain.ModeReal, 1_000, 2_000, "bet-1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(2_000), w.Available)
	assert.Zero(t, w.Held)
	assert.Equal(t, int64(1_000), w.TotalWon)
}

func TestLedger_CommitLoss(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	fund(t, l, "dave", 1_000)

	_, err := l.Hold(ctx, "dave", domain.ModeReal, 400, "bet-1")
	require.NoError(t, err)

	w, applied, err := l.CommitLoss(ctx, "dave", domain.ModeReal, 400, "bet-1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(600), w.Available)
	assert.Zero(t, w.Held)
	assert.Equal(t, int64(400), w.TotalLost)
}

func TestLedger_Replay_IsNoop(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	fund(t, l, "erin", 1_000)

	_, err := l.Hold(ctx, "erin", domain.ModeReal, 300, "bet-1")
	require.NoError(t, err)
	_, err = l.Hold(ctx, "erin", domain.ModeReal, 300, "bet-1")
	require.NoError(t, err)

	first, applied, err := l.CommitWin(ctx, "erin", domain.ModeReal, 300, 600, "bet-1")
	require.NoError(t, err)
	require.True(t, applied)

	// Any settle-phase replay for the same bet is ignored, including the
	// opposite verdict and a release.
	again, applied, err := l.CommitWin(ctx, "erin", domain.ModeReal, 300, 600, "bet-1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, first, again)

	_, applied, err = l.CommitLoss(ctx, "erin", domain.ModeReal, 300, "bet-1")
	require.NoError(t, err)
	assert.False(t, applied)

	w, err := l.Release(ctx, "erin", domain.ModeReal, 300, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, first, w)
	assert.Equal(t, int64(1_300), w.Available)
}

func TestLedger_Release_WithoutHold_IsCorruption(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	fund(t, l, "frank", 1_000)

	_, err := l.Release(ctx, "frank", domain.ModeReal, 100, "bet-x")
	require.ErrorIs(t, err, domain.ErrLedgerCorrupted)

	_, _, err = l.CommitLoss(ctx, "frank", domain.ModeReal, 100, "bet-y")
	require.ErrorIs(t, err, domain.ErrLedgerCorrupted)

	w, err := l.Wallet(ctx, "frank", domain.ModeReal)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), w.Available)
}

func TestLedger_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	_, err := l.Hold(ctx, "gus", domain.ModeReal, 0, "bet-1")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = l.Hold(ctx, "gus", "paper", 10, "bet-1")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = l.Hold(ctx, "gus", domain.ModeReal, 10, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, _, err = l.CommitWin(ctx, "gus", domain.ModeReal, 10, 5, "bet-1")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedger_ModesAreSeparate(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_, err := l.Deposit(ctx, "hana", domain.ModeDemo, 5_000, "demo-1")
	require.NoError(t, err)

	_, err = l.Hold(ctx, "hana", domain.ModeReal, 100, "bet-1")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = l.Hold(ctx, "hana", domain.ModeDemo, 100, "bet-2")
	require.NoError(t, err)
}

func TestLedger_ConcurrentHolds_NeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	fund(t, l, "ivan", 1_000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Hold(ctx, "ivan", domain.ModeReal, 100, fmt.Sprintf("bet-%d", i))
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	w, err := l.Wallet(ctx, "ivan", domain.ModeReal)
	require.NoError(t, err)
	assert.Zero(t, w.Available)
	assert.Equal(t, int64(1_000), w.Held)
}
