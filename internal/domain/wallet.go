package domain

import "time"

// WalletMode separates the real-money ledger from the demo ledger.
type WalletMode string

const (
	ModeReal WalletMode = "real"
	ModeDemo WalletMode = "demo"
)

// Valid reports whether m is a known mode.
func (m WalletMode) Valid() bool {
	return m == ModeReal || m == ModeDemo
}

// Wallet is one user's balance sheet for one mode. All amounts are minor units.
type Wallet struct {
	UserID    string
	Mode      WalletMode
	Available int64
	Held      int64
	TotalWon  int64
	TotalLost int64
	UpdatedAt time.Time
}

// EntryKind names a ledger operation.
type EntryKind string

const (
	EntryHold       EntryKind = "hold"
	EntryRelease    EntryKind = "release"
	EntryCommitWin  EntryKind = "commit_win"
	EntryCommitLoss EntryKind = "commit_loss"
	EntryDeposit    EntryKind = "deposit"
)

// EntryPhase groups kinds that are mutually exclusive for one reference.
// A bet gets at most one hold and at most one settle-phase entry.
type EntryPhase string

const (
	PhaseHold    EntryPhase = "hold"
	PhaseSettle  EntryPhase = "settle"
	PhaseDeposit EntryPhase = "deposit"
)

// Phase returns the idempotency phase for k.
func (k EntryKind) Phase() EntryPhase {
	switch k {
	case EntryHold:
		return PhaseHold
	case EntryDeposit:
		return PhaseDeposit
	default:
		return PhaseSettle
	}
}

// LedgerEntry records one applied wallet operation. (RefID, Phase) is unique.
type LedgerEntry struct {
	RefID     string
	Kind      EntryKind
	UserID    string
	Mode      WalletMode
	Amount    int64
	Payout    int64
	CreatedAt time.Time
}

// WalletKey addresses one wallet.
type WalletKey struct {
	UserID string
	Mode   WalletMode
}
