package domain

import "time"

// BetStatus tracks the bet lifecycle.
type BetStatus string

const (
	BetAccepted  BetStatus = "ACCEPTED"
	BetCancelled BetStatus = "CANCELLED"
	BetWon       BetStatus = "WON"
	BetLost      BetStatus = "LOST"
)

// Terminal reports whether settlement has already resolved the bet.
func (s BetStatus) Terminal() bool {
	return s == BetWon || s == BetLost
}

// Bet is a stake on one side of one market in a round.
type Bet struct {
	ID         string
	UserID     string
	RoundID    string
	Market     Market
	Side       Side
	Stake      int64 // minor units
	Mode       WalletMode
	Status     BetStatus
	Payout     *int64
	PlacedAt   time.Time
	ResolvedAt *time.Time
}

// PayoutOrZero returns the settled payout, or zero when unresolved.
func (b Bet) PayoutOrZero() int64 {
	if b.Payout == nil {
		return 0
	}
	return *b.Payout
}
