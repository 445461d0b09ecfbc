package settlement

import "github.com/alanyoungcy/roundbet/internal/domain"

// PayoutMultiplier is applied to the stake of every winning bet.
const PayoutMultiplier = 2

// Verdict is the terminal status and payout for one bet.
type Verdict struct {
	Status domain.BetStatus
	Payout int64
}

// Outcome is the deterministic result of resolving a round's bets.
type Outcome struct {
	Totals              domain.MarketTotals
	IndecisionTriggered bool
	// Winners holds the minority side per binary market. Empty when the
	// indecision override fired.
	Winners  map[domain.Market]domain.Side
	Verdicts map[string]Verdict
}

// Winner returns the winning side of m, or "" under indecision.
func (o Outcome) Winner(m domain.Market) domain.Side {
	return o.Winners[m]
}

// Resolve applies minority-wins with the indecision override. Cancelled bets
// are ignored; already-resolved bets are counted like accepted ones, so
// resolving a partially settled round reproduces the original outcome.
//
// Stakes are compared as exact integers. Any tied pair, including one with
// no stake on either side, triggers indecision for the whole round.
func Resolve(bets []domain.Bet) Outcome {
	out := Outcome{
		Totals:   make(domain.MarketTotals, len(domain.AllSides())),
		Winners:  make(map[domain.Market]domain.Side, 3),
		Verdicts: make(map[string]Verdict, len(bets)),
	}
	for _, side := range domain.AllSides() {
		out.Totals[side] = 0
	}
	for _, b := range bets {
		if b.Status == domain.BetCancelled {
			continue
		}
		out.Totals[b.Side] += b.Stake
	}

	for _, p := range domain.Pairs() {
		a, b := out.Totals[p.A], out.Totals[p.B]
		switch {
		case a == b:
			out.IndecisionTriggered = true
		case a < b:
			out.Winners[p.Market] = p.A
		default:
			out.Winners[p.Market] = p.B
		}
	}
	if out.IndecisionTriggered {
		clear(out.Winners)
	}

	for _, b := range bets {
		if b.Status == domain.BetCancelled {
			continue
		}
		out.Verdicts[b.ID] = out.verdict(b)
	}
	return out
}

func (o Outcome) verdict(b domain.Bet) Verdict {
	var won bool
	if o.IndecisionTriggered {
		won = b.Side == domain.SideIndecision
	} else {
		won = b.Side != domain.SideIndecision && o.Winners[b.Market] == b.Side
	}
	if won {
		return Verdict{Status: domain.BetWon, Payout: PayoutMultiplier * b.Stake}
	}
	return Verdict{Status: domain.BetLost}
}
