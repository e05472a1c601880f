package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceOracle quotes one whole token (1e18 base units) in wrapped native.
type PriceOracle interface {
	Price(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// LiquidityOracle inspects a token's pool and its LP lock.
type LiquidityOracle interface {
	Pair(ctx context.Context, tokenID string) (PairInfo, error)
	LockInfo(ctx context.Context, tokenID string) (LockInfo, error)
}

// TokenOracle reads ERC-20 metadata.
type TokenOracle interface {
	TotalSupply(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// TaxEstimator estimates transfer taxes by simulating a round trip.
type TaxEstimator interface {
	EstimateTaxes(ctx context.Context, tokenID string) (buyPct, sellPct decimal.Decimal, err error)
}

// SwapRequest describes a single exact-input swap.
type SwapRequest struct {
	TokenIn      string
	TokenOut     string
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
	Deadline     time.Time
}

// SwapExecutor performs swaps and quotes their expected output.
type SwapExecutor interface {
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (decimal.Decimal, error)
	Swap(ctx context.Context, req SwapRequest) (decimal.Decimal, error)
	// NativeToken is the identifier used for the chain's wrapped native asset.
	NativeToken() string
}

// NewPair is a freshly listed pool paired with wrapped native.
type NewPair struct {
	PairAddress string    `json:"pair_address"`
	TokenID     string    `json:"token_id"`
	Index       uint64    `json:"index"`
	SeenAt      time.Time `json:"seen_at"`
}

// PairScanner lists the most recently created pools on the factory.
type PairScanner interface {
	LatestPairs(ctx context.Context, count int) ([]NewPair, error)
}
