package handler

import (
	"time"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// API representations. Amounts are decimal strings in major units.

type roundView struct {
	ID                  string            `json:"id"`
	RoundNumber         int64             `json:"round_number"`
	Class               string            `json:"class"`
	State               domain.RoundState `json:"state"`
	OpenedAt            time.Time         `json:"opened_at"`
	FreezeAt            time.Time         `json:"freeze_at"`
	ClosesAt            time.Time         `json:"closes_at"`
	SettledAt           *time.Time        `json:"settled_at,omitempty"`
	OuterWinner         domain.Side       `json:"outer_winner,omitempty"`
	MiddleWinner        domain.Side       `json:"middle_winner,omitempty"`
	InnerWinner         domain.Side       `json:"inner_winner,omitempty"`
	IndecisionTriggered bool              `json:"indecision_triggered"`
}

func newRoundView(r domain.Round) roundView {
	return roundView{
		ID:                  r.ID,
		RoundNumber:         r.Sequence,
		Class:               r.Class,
		State:               r.State,
		OpenedAt:            r.OpenedAt,
		FreezeAt:            r.FreezeAt,
		ClosesAt:            r.ClosesAt,
		SettledAt:           r.SettledAt,
		OuterWinner:         r.OuterWinner,
		MiddleWinner:        r.MiddleWinner,
		InnerWinner:         r.InnerWinner,
		IndecisionTriggered: r.IndecisionTriggered,
	}
}

type betView struct {
	ID         string            `json:"id"`
	RoundID    string            `json:"round_id"`
	Market     domain.Market     `json:"market"`
	Side       domain.Side       `json:"side"`
	Amount     string            `json:"amount"`
	Mode       domain.WalletMode `json:"mode"`
	Status     domain.BetStatus  `json:"status"`
	Payout     *string           `json:"payout,omitempty"`
	PlacedAt   time.Time         `json:"placed_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

func newBetView(b domain.Bet) betView {
	v := betView{
		ID:         b.ID,
		RoundID:    b.RoundID,
		Market:     b.Market,
		Side:       b.Side,
		Amount:     domain.FormatAmount(b.Stake),
		Mode:       b.Mode,
		Status:     b.Status,
		PlacedAt:   b.PlacedAt,
		ResolvedAt: b.ResolvedAt,
	}
	if b.Payout != nil {
		p := domain.FormatAmount(*b.Payout)
		v.Payout = &p
	}
	return v
}

type walletView struct {
	UserID    string            `json:"user_id"`
	Mode      domain.WalletMode `json:"mode"`
	Available string            `json:"available"`
	Held      string            `json:"held"`
	TotalWon  string            `json:"total_won"`
	TotalLost string            `json:"total_lost"`
}

func newWalletView(w domain.Wallet) walletView {
	return walletView{
		UserID:    w.UserID,
		Mode:      w.Mode,
		Available: domain.FormatAmount(w.Available),
		Held:      domain.FormatAmount(w.Held),
		TotalWon:  domain.FormatAmount(w.TotalWon),
		TotalLost: domain.FormatAmount(w.TotalLost),
	}
}

type totalsView struct {
	RoundID string            `json:"round_id"`
	State   domain.RoundState `json:"state"`
	Final   bool              `json:"final"`
	Totals  map[string]string `json:"totals"`
}

func newTotalsView(r domain.Round, totals domain.MarketTotals, final bool) totalsView {
	out := make(map[string]string, len(domain.AllSides()))
	for _, s := range domain.AllSides() {
		out[string(s)] = domain.FormatAmount(totals.Get(s))
	}
	return totalsView{RoundID: r.ID, State: r.State, Final: final, Totals: out}
}
