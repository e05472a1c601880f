package chain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

var (
	// OneToken is 1e18 base units, the unit the price oracle quotes.
	OneToken = big.NewInt(1_000_000_000_000_000_000)
	// taxSample is the 0.01 native round trip used to estimate taxes.
	taxSample = big.NewInt(10_000_000_000_000_000)
	// taxExpected is the sample less roughly 1% for two 0.3% pool fees.
	taxExpected = decimal.NewFromBigInt(taxSample, 0).Mul(decimal.NewFromInt(99)).Div(decimal.NewFromInt(100))
)

// ToBig converts base units to an on-chain uint256 value. Fractions are
// truncated; negative values fail with ErrArithmeticUnderflow.
func ToBig(d decimal.Decimal) (*big.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("chain: %s to uint256: %w", d, domain.ErrArithmeticUnderflow)
	}
	return d.Truncate(0).BigInt(), nil
}

// FromBig converts an on-chain integer to a decimal. nil is zero.
func FromBig(b *big.Int) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(b, 0)
}

// TaxFromRoundTrip estimates the combined transfer tax from what a 0.01
// native buy-then-sell quote returns. Anything at or above 99% of the sample
// counts as untaxed.
func TaxFromRoundTrip(returned *big.Int) decimal.Decimal {
	back := FromBig(returned)
	if back.GreaterThanOrEqual(taxExpected) {
		return decimal.Zero
	}
	return taxExpected.Sub(back).Mul(decimal.NewFromInt(100)).DivRound(taxExpected, 4)
}

// LockedPct is locked * 100 / supply, zero when supply is zero.
func LockedPct(locked, supply *big.Int) decimal.Decimal {
	s := FromBig(supply)
	if s.IsZero() {
		return decimal.Zero
	}
	return FromBig(locked).Mul(decimal.NewFromInt(100)).DivRound(s, 4)
}
