package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/roundbet/internal/cache/memory"
	"github.com/alanyoungcy/roundbet/internal/config"
	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/notify"
	"github.com/alanyoungcy/roundbet/internal/store/memory"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Port = 0
	cfg.Game.PremiumUsers = []string{"vip"}
	return &cfg
}

func TestWire_MemoryFallbacks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), testConfig(), logger)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.RoundStore{}, deps.Rounds)
	assert.IsType(t, &cachemem.SignalBus{}, deps.Bus)
	assert.IsType(t, &cachemem.LockManager{}, deps.Locks)
	assert.IsType(t, &notify.Notifier{}, deps.Notifier)
	assert.Nil(t, deps.BlobWriter)
	assert.Empty(t, deps.Checks)

	premium, err := deps.Directory.IsPremium(context.Background(), "vip")
	require.NoError(t, err)
	assert.True(t, premium)
}

func TestFullMode_OpensRoundsAndStops(t *testing.T) {
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(cfg, logger)
	defer a.Close()

	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	require.NoError(t, err)
	a.closers = append(a.closers, cleanup)
	c, err := a.build(deps)
	require.NoError(t, err)
	assert.Nil(t, c.archive)
	assert.Equal(t, int64(100_000), c.amounts.InitialDemoBalance)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.FullMode(ctx, c) }()

	require.Eventually(t, func() bool {
		for _, class := range cfg.Game.Classes {
			r, err := deps.Rounds.Current(context.Background(), class.Name)
			if err != nil || r.State != domain.RoundOpen {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("full mode did not stop")
	}
}
