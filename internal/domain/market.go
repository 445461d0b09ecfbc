package domain

import "fmt"

// Market identifies one of the three binary pairs or the Indecision overlay.
type Market string

const (
	MarketOuter      Market = "OUTER"
	MarketMiddle     Market = "MIDDLE"
	MarketInner      Market = "INNER"
	MarketIndecision Market = "INDECISION"
)

// Side is a selection inside a market.
type Side string

const (
	SideBuy        Side = "BUY"
	SideSell       Side = "SELL"
	SideBlue       Side = "BLUE"
	SideRed        Side = "RED"
	SideHighVol    Side = "HIGH_VOL"
	SideLowVol     Side = "LOW_VOL"
	SideIndecision Side = "INDECISION"
)

// Pair is a binary market with two opposing sides.
type Pair struct {
	Market Market
	A      Side
	B      Side
}

// pairs is ordered outer to inner; settlement and totals iterate in this order.
var pairs = [...]Pair{
	{Market: MarketOuter, A: SideBuy, B: SideSell},
	{Market: MarketMiddle, A: SideBlue, B: SideRed},
	{Market: MarketInner, A: SideHighVol, B: SideLowVol},
}

// Pairs returns the three binary market pairs.
func Pairs() []Pair {
	out := make([]Pair, len(pairs))
	copy(out, pairs[:])
	return out
}

// AllSides lists every selectable side, Indecision last.
func AllSides() []Side {
	sides := make([]Side, 0, 2*len(pairs)+1)
	for _, p := range pairs {
		sides = append(sides, p.A, p.B)
	}
	return append(sides, SideIndecision)
}

// MarketOf returns the market a side belongs to.
func MarketOf(side Side) (Market, bool) {
	if side == SideIndecision {
		return MarketIndecision, true
	}
	for _, p := range pairs {
		if p.A == side || p.B == side {
			return p.Market, true
		}
	}
	return "", false
}

// Opposite returns the other side of a binary pair. Indecision has no opposite.
func Opposite(side Side) (Side, bool) {
	for _, p := range pairs {
		switch side {
		case p.A:
			return p.B, true
		case p.B:
			return p.A, true
		}
	}
	return "", false
}

// ValidateSelection checks that side belongs to market.
func ValidateSelection(market Market, side Side) error {
	switch market {
	case MarketOuter, MarketMiddle, MarketInner, MarketIndecision:
	default:
		return Invalid("market", fmt.Sprintf("unknown market %q", market))
	}
	m, ok := MarketOf(side)
	if !ok {
		return Invalid("side", fmt.Sprintf("unknown side %q", side))
	}
	if m != market {
		return Invalid("side", fmt.Sprintf("side %s does not belong to market %s", side, market))
	}
	return nil
}

// MarketTotals holds the staked sum per side for one round.
type MarketTotals map[Side]int64

// Get returns the total for side, zero when absent.
func (t MarketTotals) Get(side Side) int64 {
	return t[side]
}

// Clone returns an independent copy.
func (t MarketTotals) Clone() MarketTotals {
	out := make(MarketTotals, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
