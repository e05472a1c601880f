package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// TakeProfitPrice is entry * (1 + tp/100).
func TakeProfitPrice(entry decimal.Decimal, cfg domain.PolicyConfig) decimal.Decimal {
	return entry.Mul(hundred.Add(cfg.TakeProfitPct)).Div(hundred)
}

// StopLossPrice is highest * (1 - sl/100). The comparison against it is
// strict: a price equal to the stop holds, only a lower price sells.
func StopLossPrice(highest decimal.Decimal, cfg domain.PolicyConfig) decimal.Decimal {
	return highest.Mul(hundred.Sub(cfg.StopLossPct)).Div(hundred)
}

// EvaluateExit raises the position's high-water mark to price and then checks
// the exit triggers, first match wins:
//  1. profit target, measured from the fixed entry price (inclusive)
//  2. trailing stop-loss, measured from the high-water mark; price must be
//     strictly below StopLossPrice, so a price exactly at the stop holds
//  3. maximum holding time
//
// Closed positions are left untouched and always Hold.
func EvaluateExit(pos *domain.Position, price decimal.Decimal, cfg domain.PolicyConfig, now time.Time) domain.ExitDecision {
	if pos == nil || !pos.IsOpen() {
		return domain.Hold
	}
	if price.GreaterThan(pos.HighestPrice) {
		pos.HighestPrice = price
	}

	if price.GreaterThanOrEqual(TakeProfitPrice(pos.EntryPrice, cfg)) {
		return domain.ExitFor(domain.ExitProfitTarget)
	}
	if price.LessThan(StopLossPrice(pos.HighestPrice, cfg)) {
		return domain.ExitFor(domain.ExitStopLoss)
	}
	if !now.Before(pos.OpenedAt.Add(cfg.MaxHoldingDuration)) {
		return domain.ExitFor(domain.ExitTimeLimit)
	}
	return domain.Hold
}

// UnrealizedPnL values the position at price: amount * price / 1e18 - cost basis.
func UnrealizedPnL(pos domain.Position, price decimal.Decimal) decimal.Decimal {
	if !pos.IsOpen() {
		return decimal.Zero
	}
	return pos.AmountHeld.Mul(price).Div(oneToken).Sub(pos.CostBasis)
}

// oneToken is the number of base units the price oracle quotes.
var oneToken = decimal.New(1, 18)
