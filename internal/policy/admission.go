// Package policy is the position policy engine: the admission filter, the
// exit monitor and exit settlement, plus the versioned snapshot those
// evaluations read. Nothing in this package performs I/O.
package policy

import (
	"errors"
	"time"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// Blacklist answers membership queries for the admission filter.
type Blacklist interface {
	Contains(tokenID string) bool
}

// EvaluateCandidate decides whether a token may be bought. Checks run in a
// fixed order and the first failure is returned:
//  1. liquidity pair present
//  2. total supply within cap
//  3. price at or above the floor
//  4. locked LP share at or above the minimum
//  5. lock expiry at least min_liquidity_lock_days away
//  6. buy and sell tax within the ceiling
//  7. token not blacklisted
func EvaluateCandidate(snap domain.TokenSnapshot, cfg domain.PolicyConfig, bl Blacklist, now time.Time) domain.AdmissionDecision {
	if !snap.HasLiquidityPair {
		return domain.Reject(domain.RejectNoLiquidityPair)
	}
	if snap.TotalSupply.GreaterThan(cfg.MaxTotalSupply) {
		return domain.Reject(domain.RejectSupplyExceeded)
	}
	if snap.CurrentPrice.LessThan(cfg.MinPrice) {
		return domain.Reject(domain.RejectPriceTooLow)
	}
	if snap.LiquidityLockedPct.LessThan(cfg.MinLiquidityLockPct) {
		return domain.Reject(domain.RejectLockPctTooLow)
	}
	minUnlock := now.Add(time.Duration(cfg.MinLiquidityLockDays) * 24 * time.Hour)
	if snap.LiquidityLockedUntil.Before(minUnlock) {
		return domain.Reject(domain.RejectLockTooShort)
	}
	if snap.BuyTaxPct.GreaterThan(cfg.MaxTaxPct) || snap.SellTaxPct.GreaterThan(cfg.MaxTaxPct) {
		return domain.Reject(domain.RejectTaxTooHigh)
	}
	if bl != nil && bl.Contains(snap.TokenID) {
		return domain.Reject(domain.RejectBlacklisted)
	}
	return domain.Admit
}

// RejectionFor maps a failed snapshot build to a rejection. Anything that is
// not clearly a bad token counts as an unavailable oracle, so uncertainty
// never admits.
func RejectionFor(err error) domain.AdmissionDecision {
	var admErr *domain.AdmissionError
	switch {
	case errors.As(err, &admErr):
		return domain.Reject(admErr.Reason)
	case errors.Is(err, domain.ErrInvalidToken):
		return domain.Reject(domain.RejectInvalidToken)
	default:
		return domain.Reject(domain.RejectOracleUnavailable)
	}
}
