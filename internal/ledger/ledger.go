// Package ledger implements the wallet hold/release/commit protocol. Balance
// rules live here; atomicity, per-user serialization and replay protection are
// delegated to the domain.WalletStore journal keyed by (refID, phase).
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/observability"
)

// Ledger applies wallet operations.
type Ledger struct {
	store   domain.WalletStore
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Ledger over the given store.
func New(store domain.WalletStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// WithClock overrides the timestamp source. Intended for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// WithMetrics enables operation counters.
func (l *Ledger) WithMetrics(m *observability.Metrics) *Ledger {
	l.metrics = m
	return l
}

// Wallet returns the current balances for a user and mode.
func (l *Ledger) Wallet(ctx context.Context, userID string, mode domain.WalletMode) (domain.Wallet, error) {
	return l.store.Get(ctx, domain.WalletKey{UserID: userID, Mode: mode})
}

// Entry returns the journaled operation for a reference and phase, or
// domain.ErrNotFound when none was applied.
func (l *Ledger) Entry(ctx context.Context, refID string, phase domain.EntryPhase) (domain.LedgerEntry, error) {
	return l.store.Entry(ctx, refID, phase)
}

// Hold moves amount from available to held. It fails with
// domain.ErrInsufficientFunds and no side effects when available < amount.
func (l *Ledger) Hold(ctx context.Context, userID string, mode domain.WalletMode, amount int64, refID string) (domain.Wallet, error) {
	if err := checkAmount(amount); err != nil {
		return domain.Wallet{}, err
	}
	w, _, err := l.apply(ctx, domain.LedgerEntry{
		RefID: refID, Kind: domain.EntryHold, UserID: userID, Mode: mode, Amount: amount,
	}, HoldRule(amount))
	return w, err
}

// Release reverses a hold without profit or loss. A held balance smaller
// than amount is a bookkeeping bug and yields domain.ErrLedgerCorrupted.
func (l *Ledger) Release(ctx context.Context, userID string, mode domain.WalletMode, amount int64, refID string) (domain.Wallet, error) {
	if err := checkAmount(amount); err != nil {
		return domain.Wallet{}, err
	}
	w, _, err := l.apply(ctx, domain.LedgerEntry{
		RefID: refID, Kind: domain.EntryRelease, UserID: userID, Mode: mode, Amount: amount,
	}, ReleaseRule(amount))
	return w, err
}

// CommitWin consumes the held stake and credits the payout.
func (l *Ledger) CommitWin(ctx context.Context, userID string, mode domain.WalletMode, stake, payout int64, refID string) (domain.Wallet, bool, error) {
	if err := checkAmount(stake); err != nil {
		return domain.Wallet{}, false, err
	}
	if payout < stake {
		return domain.Wallet{}, false, domain.Invalid("payout", "must not be below stake")
	}
	return l.apply(ctx, domain.LedgerEntry{
		RefID: refID, Kind: domain.EntryCommitWin, UserID: userID, Mode: mode, Amount: stake, Payout: payout,
	}, CommitWinRule(stake, payout))
}

// CommitLoss consumes the held stake; nothing returns to available.
func (l *Ledger) CommitLoss(ctx context.Context, userID string, mode domain.WalletMode, stake int64, refID string) (domain.Wallet, bool, error) {
	if err := checkAmount(stake); err != nil {
		return domain.Wallet{}, false, err
	}
	return l.apply(ctx, domain.LedgerEntry{
		RefID: refID, Kind: domain.EntryCommitLoss, UserID: userID, Mode: mode, Amount: stake,
	}, CommitLossRule(stake))
}

// Deposit credits available. Real deposits arrive from the payments
// collaborator through this call; demo top-ups use it directly.
func (l *Ledger) Deposit(ctx context.Context, userID string, mode domain.WalletMode, amount int64, refID string) (domain.Wallet, error) {
	if err := checkAmount(amount); err != nil {
		return domain.Wallet{}, err
	}
	w, _, err := l.apply(ctx, domain.LedgerEntry{
		RefID: refID, Kind: domain.EntryDeposit, UserID: userID, Mode: mode, Amount: amount,
	}, DepositRule(amount))
	return w, err
}

func (l *Ledger) apply(ctx context.Context, entry domain.LedgerEntry, rule domain.WalletMutation) (domain.Wallet, bool, error) {
	if entry.RefID == "" {
		return domain.Wallet{}, false, domain.Invalid("ref_id", "required")
	}
	if !entry.Mode.Valid() {
		return domain.Wallet{}, false, domain.Invalid("mode", fmt.Sprintf("unknown mode %q", entry.Mode))
	}
	entry.CreatedAt = l.now()

	w, applied, err := l.store.Apply(ctx, entry, func(w *domain.Wallet) error {
		if err := rule(w); err != nil {
			return err
		}
		w.UpdatedAt = entry.CreatedAt
		return nil
	})
	if err != nil {
		return w, false, fmt.Errorf("ledger: %s %s: %w", entry.Kind, entry.RefID, err)
	}
	if l.metrics != nil {
		if applied {
			l.metrics.LedgerOps.WithLabelValues(string(entry.Kind)).Inc()
		} else {
			l.metrics.LedgerReplays.WithLabelValues(string(entry.Kind)).Inc()
		}
	}
	if !applied {
		l.logger.DebugContext(ctx, "ledger replay ignored",
			slog.String("kind", string(entry.Kind)),
			slog.String("ref_id", entry.RefID),
			slog.String("user_id", entry.UserID),
		)
	}
	return w, applied, nil
}

func checkAmount(amount int64) error {
	if amount <= 0 {
		return domain.Invalid("amount", "must be positive")
	}
	return nil
}
