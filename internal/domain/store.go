package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RoundStore persists rounds. The clock actor for a class is its only writer
// of state transitions; settlement records winners.
type RoundStore interface {
	Create(ctx context.Context, r Round) error
	GetByID(ctx context.Context, id string) (Round, error)
	// Current returns the latest non-settled round of a class, or ErrNotFound.
	Current(ctx context.Context, class string) (Round, error)
	// Latest returns the highest-sequence round of a class regardless of state.
	Latest(ctx context.Context, class string) (Round, error)
	// UpdateState performs a compare-and-set from one state to another.
	UpdateState(ctx context.Context, id string, from, to RoundState) error
	// MarkSettled records the outcome and moves SETTLING -> SETTLED.
	MarkSettled(ctx context.Context, r Round) error
	// History lists settled rounds of a class, newest first.
	History(ctx context.Context, class string, opts ListOpts) ([]Round, error)
	// ListSettledBefore supports archival.
	ListSettledBefore(ctx context.Context, before time.Time) ([]Round, error)
}

// BetStore persists bets.
type BetStore interface {
	Create(ctx context.Context, b Bet) error
	GetByID(ctx context.Context, id string) (Bet, error)
	ListByRound(ctx context.Context, roundID string) ([]Bet, error)
	ListByUser(ctx context.Context, userID, roundID string, opts ListOpts) ([]Bet, error)
	CountAccepted(ctx context.Context, userID, roundID string) (int, error)
	// Cancel moves ACCEPTED -> CANCELLED. ErrNotFound when the bet is not
	// (or no longer) ACCEPTED.
	Cancel(ctx context.Context, id string, at time.Time) error
	// Resolve moves ACCEPTED -> WON/LOST with the payout. It reports false
	// when the bet was already terminal.
	Resolve(ctx context.Context, id string, status BetStatus, payout int64, at time.Time) (bool, error)
}

// WalletMutation is applied to a wallet inside its exclusive section. It must
// either mutate w and return nil, or leave w untouched and return an error.
type WalletMutation func(w *Wallet) error

// WalletStore persists wallets and their idempotency journal.
type WalletStore interface {
	Get(ctx context.Context, key WalletKey) (Wallet, error)
	// Apply runs fn under the wallet's exclusive lock unless (entry.RefID,
	// entry.Kind.Phase()) was already journaled, in which case it returns the
	// current wallet with applied=false. On success the wallet and entry are
	// committed together.
	Apply(ctx context.Context, entry LedgerEntry, fn WalletMutation) (w Wallet, applied bool, err error)
	// Entry returns the journal entry for a reference and phase.
	Entry(ctx context.Context, refID string, phase EntryPhase) (LedgerEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// UserDirectory is the identity collaborator consulted at admission time.
type UserDirectory interface {
	IsPremium(ctx context.Context, userID string) (bool, error)
}
