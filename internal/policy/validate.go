package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

const (
	MaxPercent       = 100
	MaxTakeProfitPct = 100_000
	MaxExitFeeBps    = 1_000
)

// Default returns the stock thresholds.
func Default() domain.PolicyConfig {
	return domain.PolicyConfig{
		Version:              1,
		MinLiquidityLockDays: 90,
		MinLiquidityLockPct:  decimal.NewFromInt(20),
		MaxTotalSupply:       decimal.New(10, 27), // 10e9 tokens at 18 decimals
		MinPrice:             decimal.NewFromInt(10_000_000),
		TakeProfitPct:        decimal.NewFromInt(1000),
		StopLossPct:          decimal.NewFromInt(15),
		MaxHoldingDuration:   72 * time.Hour,
		MaxTaxPct:            decimal.NewFromInt(10),
		SlippageTolerancePct: decimal.NewFromInt(5),
		ExitFeeBps:           50,
		MinNativeLiquidity:   decimal.New(5, 17),
		SwapDeadline:         300 * time.Second,
		GasMultiplierPct:     120,
	}
}

// Validate checks every bound and reports all violations at once, wrapped in
// ErrInvalidPolicy.
func Validate(cfg domain.PolicyConfig) error {
	var errs []error
	pct := func(name string, v decimal.Decimal, max int64) {
		if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(max)) {
			errs = append(errs, fmt.Errorf("%s must be in [0, %d], got %s", name, max, v))
		}
	}
	pct("min_liquidity_lock_pct", cfg.MinLiquidityLockPct, MaxPercent)
	pct("take_profit_pct", cfg.TakeProfitPct, MaxTakeProfitPct)
	pct("stop_loss_pct", cfg.StopLossPct, MaxPercent)
	pct("max_tax_pct", cfg.MaxTaxPct, MaxPercent)
	pct("slippage_tolerance_pct", cfg.SlippageTolerancePct, MaxPercent)

	if cfg.StopLossPct.GreaterThanOrEqual(decimal.NewFromInt(MaxPercent)) {
		errs = append(errs, fmt.Errorf("stop_loss_pct must be below 100"))
	}
	if cfg.MinLiquidityLockDays < 0 {
		errs = append(errs, fmt.Errorf("min_liquidity_lock_days must not be negative"))
	}
	if cfg.MaxTotalSupply.IsNegative() {
		errs = append(errs, fmt.Errorf("max_total_supply must not be negative"))
	}
	if cfg.MinPrice.IsNegative() {
		errs = append(errs, fmt.Errorf("min_price must not be negative"))
	}
	if cfg.MinNativeLiquidity.IsNegative() {
		errs = append(errs, fmt.Errorf("min_native_liquidity must not be negative"))
	}
	if cfg.ExitFeeBps < 0 || cfg.ExitFeeBps > MaxExitFeeBps {
		errs = append(errs, fmt.Errorf("exit_fee_bps must be in [0, %d], got %d", MaxExitFeeBps, cfg.ExitFeeBps))
	}
	if cfg.MaxHoldingDuration <= 0 {
		errs = append(errs, fmt.Errorf("max_holding_duration must be positive"))
	}
	if cfg.SwapDeadline <= 0 {
		errs = append(errs, fmt.Errorf("swap_deadline must be positive"))
	}
	if cfg.GasMultiplierPct < 100 {
		errs = append(errs, fmt.Errorf("gas_multiplier_pct must be at least 100"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidPolicy, errors.Join(errs...))
}
