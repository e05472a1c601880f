package policy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

var bpsDenominator = decimal.NewFromInt(10_000)

// MinAcceptable is the least a swap may return for a quote: quoted * (1 - slippage/100).
func MinAcceptable(quoted decimal.Decimal, cfg domain.PolicyConfig) decimal.Decimal {
	return quoted.Mul(hundred.Sub(cfg.SlippageTolerancePct)).Div(hundred)
}

// ExitFee is gross * exit_fee_bps / 10000, truncated to whole base units.
func ExitFee(gross decimal.Decimal, cfg domain.PolicyConfig) decimal.Decimal {
	if cfg.ExitFeeBps <= 0 {
		return decimal.Zero
	}
	return gross.Mul(decimal.NewFromInt(cfg.ExitFeeBps)).Div(bpsDenominator).Truncate(0)
}

// ExecuteExit closes pos at the quoted proceeds. See ExecuteExitFilled.
func ExecuteExit(pos *domain.Position, reason domain.ExitReason, quoted decimal.Decimal, cfg domain.PolicyConfig, now time.Time) (domain.ExitResult, error) {
	return ExecuteExitFilled(pos, reason, quoted, quoted, cfg, now)
}

// ExecuteExitFilled settles pos on the amount a swap actually returned.
// It fails with ErrAlreadyClosed when pos is not open and with ErrSwapFailed
// when filled is under the slippage floor of quoted; in both cases pos is not
// modified. Realized PnL is net proceeds minus cost basis and may be negative.
func ExecuteExitFilled(pos *domain.Position, reason domain.ExitReason, quoted, filled decimal.Decimal, cfg domain.PolicyConfig, now time.Time) (domain.ExitResult, error) {
	if pos == nil {
		return domain.ExitResult{}, fmt.Errorf("policy: execute exit: %w", domain.ErrNotFound)
	}
	if !pos.IsOpen() {
		return domain.ExitResult{}, fmt.Errorf("policy: execute exit %s: %w", pos.ID, domain.ErrAlreadyClosed)
	}
	if !reason.Valid() {
		return domain.ExitResult{}, fmt.Errorf("policy: execute exit %s: unknown reason %q", pos.ID, reason)
	}
	if quoted.IsNegative() || filled.IsNegative() || pos.CostBasis.IsNegative() {
		return domain.ExitResult{}, fmt.Errorf("policy: execute exit %s: %w", pos.ID, domain.ErrArithmeticUnderflow)
	}

	res := domain.ExitResult{
		MinAcceptable: MinAcceptable(quoted, cfg),
		Gross:         filled,
	}
	if filled.LessThan(res.MinAcceptable) {
		return domain.ExitResult{}, fmt.Errorf("policy: execute exit %s: filled %s below minimum %s: %w",
			pos.ID, filled, res.MinAcceptable, domain.ErrSwapFailed)
	}
	res.Fee = ExitFee(filled, cfg)
	res.NetProceeds = filled.Sub(res.Fee)
	res.RealizedPnL = res.NetProceeds.Sub(pos.CostBasis)

	closedAt := now.UTC()
	pos.Status = domain.PositionStatusClosed
	pos.ExitReason = reason
	pos.ClosedAt = &closedAt
	pos.ExitProceeds = res.NetProceeds
	pos.ExitFee = res.Fee
	pos.RealizedPnL = res.RealizedPnL
	return res, nil
}

// ProfitPct is realized PnL as a percentage of cost basis. Zero cost yields zero.
func ProfitPct(pos domain.Position) decimal.Decimal {
	if pos.CostBasis.IsZero() {
		return decimal.Zero
	}
	return pos.RealizedPnL.Mul(hundred).Div(pos.CostBasis)
}
