package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PolicyConfig holds every threshold the engine evaluates against. Values are
// immutable once published; updates produce a new version.
type PolicyConfig struct {
	Version              int64           `json:"version"`
	MinLiquidityLockDays int             `json:"min_liquidity_lock_days"`
	MinLiquidityLockPct  decimal.Decimal `json:"min_liquidity_lock_pct"`
	MaxTotalSupply       decimal.Decimal `json:"max_total_supply"`
	MinPrice             decimal.Decimal `json:"min_price"`
	TakeProfitPct        decimal.Decimal `json:"take_profit_pct"`
	StopLossPct          decimal.Decimal `json:"stop_loss_pct"`
	MaxHoldingDuration   time.Duration   `json:"max_holding_duration"`
	MaxTaxPct            decimal.Decimal `json:"max_tax_pct"`
	SlippageTolerancePct decimal.Decimal `json:"slippage_tolerance_pct"`
	ExitFeeBps           int64           `json:"exit_fee_bps"`
	MinNativeLiquidity   decimal.Decimal `json:"min_native_liquidity"`
	SwapDeadline         time.Duration   `json:"swap_deadline"`
	GasMultiplierPct     int64           `json:"gas_multiplier_pct"`
	UpdatedBy            string          `json:"updated_by,omitempty"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// TokenSnapshot is the market view of one token at one instant. It is built
// per evaluation and never persisted.
type TokenSnapshot struct {
	TokenID              string          `json:"token_id"`
	CurrentPrice         decimal.Decimal `json:"current_price"`
	TotalSupply          decimal.Decimal `json:"total_supply"`
	LiquidityLockedPct   decimal.Decimal `json:"liquidity_locked_pct"`
	LiquidityLockedUntil time.Time       `json:"liquidity_locked_until"`
	BuyTaxPct            decimal.Decimal `json:"buy_tax_pct"`
	SellTaxPct           decimal.Decimal `json:"sell_tax_pct"`
	HasLiquidityPair     bool            `json:"has_liquidity_pair"`
	NativeReserve        decimal.Decimal `json:"native_reserve"`
	TakenAt              time.Time       `json:"taken_at"`
}

// RejectReason names the admission check that failed.
type RejectReason string

const (
	RejectNoLiquidityPair   RejectReason = "no_liquidity_pair"
	RejectSupplyExceeded    RejectReason = "supply_exceeded"
	RejectPriceTooLow       RejectReason = "price_too_low"
	RejectLockPctTooLow     RejectReason = "lock_pct_too_low"
	RejectLockTooShort      RejectReason = "lock_too_short"
	RejectTaxTooHigh        RejectReason = "tax_too_high"
	RejectBlacklisted       RejectReason = "blacklisted"
	RejectOracleUnavailable RejectReason = "oracle_unavailable"
	RejectInvalidToken      RejectReason = "invalid_token"
)

// AdmissionDecision is the output of the admission filter.
type AdmissionDecision struct {
	Admitted bool         `json:"admitted"`
	Reason   RejectReason `json:"reason,omitempty"`
}

// Admit is the positive admission decision.
var Admit = AdmissionDecision{Admitted: true}

// Reject builds a negative decision.
func Reject(reason RejectReason) AdmissionDecision {
	return AdmissionDecision{Reason: reason}
}

// Err returns nil for admitted candidates and an *AdmissionError otherwise.
func (d AdmissionDecision) Err() error {
	if d.Admitted {
		return nil
	}
	return &AdmissionError{Reason: d.Reason}
}

// LockInfo describes the liquidity-locker state of a token's LP.
type LockInfo struct {
	LockedPct   decimal.Decimal
	LockedUntil time.Time
}

// PairInfo describes the token/wrapped-native pool.
type PairInfo struct {
	Address       string
	NativeReserve decimal.Decimal
}

// NormalizeToken canonicalises a token address for use as a map or store key.
func NormalizeToken(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
