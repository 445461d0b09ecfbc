package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MinorUnitExp is the number of decimal places carried by one major unit.
const MinorUnitExp = 2

// MaxAmount is the largest amount in minor units ParseAmount accepts. A
// winning stake pays out double, which must still fit in an int64.
const MaxAmount = math.MaxInt64 / 2

var (
	minorScale = decimal.New(1, MinorUnitExp)
	maxAmount  = decimal.NewFromInt(MaxAmount)
)

// ParseAmount converts a decimal string such as "10.50" into minor units.
// Values with more precision than MinorUnitExp are rejected rather than rounded.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, Invalid("amount", fmt.Sprintf("not a decimal: %q", s))
	}
	scaled := d.Mul(minorScale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, Invalid("amount", fmt.Sprintf("more than %d decimal places", MinorUnitExp))
	}
	if scaled.Sign() <= 0 {
		return 0, Invalid("amount", "must be positive")
	}
	if scaled.GreaterThan(maxAmount) {
		return 0, Invalid("amount", fmt.Sprintf("exceeds maximum %s", FormatAmount(MaxAmount)))
	}
	return scaled.IntPart(), nil
}

// FormatAmount renders minor units as a fixed two-decimal string.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -MinorUnitExp).StringFixed(MinorUnitExp)
}
