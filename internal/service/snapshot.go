package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// Oracles bundles the chain reads a token snapshot needs.
type Oracles struct {
	Price     domain.PriceOracle
	Liquidity domain.LiquidityOracle
	Token     domain.TokenOracle
	Tax       domain.TaxEstimator
}

// SnapshotBuilder assembles a TokenSnapshot from the oracles, querying them
// concurrently once the pool is known. Any oracle error fails the whole build; no field is ever
// guessed.
type SnapshotBuilder struct {
	oracles Oracles
	clock   func() time.Time
}

// NewSnapshotBuilder creates a SnapshotBuilder.
func NewSnapshotBuilder(oracles Oracles) *SnapshotBuilder {
	return &SnapshotBuilder{oracles: oracles, clock: time.Now}
}

// Build reads every input of the admission filter for tokenID. A pool is
// only counted as a liquidity pair when its native reserve exceeds
// minNativeLiquidity.
func (b *SnapshotBuilder) Build(ctx context.Context, tokenID string, minNativeLiquidity decimal.Decimal) (domain.TokenSnapshot, error) {
	snap := domain.TokenSnapshot{TokenID: domain.NormalizeToken(tokenID)}
	if snap.TokenID == "" {
		return snap, fmt.Errorf("snapshot: empty token: %w", domain.ErrInvalidToken)
	}

	// The pool is read first: without one there is nothing to price and the
	// filter rejects on the pair check alone.
	pair, err := b.oracles.Liquidity.Pair(ctx, snap.TokenID)
	if err != nil {
		return snap, fmt.Errorf("snapshot %s: %w", snap.TokenID, err)
	}
	snap.NativeReserve = pair.NativeReserve
	snap.HasLiquidityPair = pair.Address != "" && pair.NativeReserve.GreaterThan(minNativeLiquidity)
	if !snap.HasLiquidityPair {
		snap.TakenAt = b.clock().UTC()
		return snap, nil
	}

	var lock domain.LockInfo
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.CurrentPrice, err = b.oracles.Price.Price(gctx, snap.TokenID)
		return err
	})
	g.Go(func() (err error) {
		snap.TotalSupply, err = b.oracles.Token.TotalSupply(gctx, snap.TokenID)
		return err
	})
	g.Go(func() (err error) {
		lock, err = b.oracles.Liquidity.LockInfo(gctx, snap.TokenID)
		return err
	})
	g.Go(func() (err error) {
		snap.BuyTaxPct, snap.SellTaxPct, err = b.oracles.Tax.EstimateTaxes(gctx, snap.TokenID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.TokenSnapshot{TokenID: snap.TokenID}, fmt.Errorf("snapshot %s: %w", snap.TokenID, err)
	}

	snap.LiquidityLockedPct = lock.LockedPct
	snap.LiquidityLockedUntil = lock.LockedUntil
	snap.TakenAt = b.clock().UTC()
	return snap, nil
}
