package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// Price quotes 1e18 base units of token in wrapped-native wei.
func (c *Client) Price(ctx context.Context, token string) (decimal.Decimal, error) {
	addr, err := parseToken(token)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := c.amountsOut(ctx, OneToken, addr, c.wrapped)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: price %s: %w", token, err)
	}
	return FromBig(out), nil
}

// Quote returns what amountIn of tokenIn buys of tokenOut on the router.
func (c *Client) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	in, err := parseToken(tokenIn)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := parseToken(tokenOut)
	if err != nil {
		return decimal.Zero, err
	}
	amt, err := ToBig(amountIn)
	if err != nil {
		return decimal.Zero, err
	}
	if amt.Sign() == 0 {
		return decimal.Zero, nil
	}
	got, err := c.amountsOut(ctx, amt, in, out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: quote %s->%s: %w", tokenIn, tokenOut, err)
	}
	return FromBig(got), nil
}

func (c *Client) amountsOut(ctx context.Context, amountIn *big.Int, from, to common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.router, routerABI, "getAmountsOut", amountIn, []common.Address{from, to})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("getAmountsOut: unexpected return: %w", domain.ErrInvalidToken)
	}
	amts, ok := out[0].([]*big.Int)
	if !ok || len(amts) == 0 {
		return nil, fmt.Errorf("getAmountsOut: bad amounts array: %w", domain.ErrInvalidToken)
	}
	return amts[len(amts)-1], nil
}

// TotalSupply reads the token's ERC-20 totalSupply.
func (c *Client) TotalSupply(ctx context.Context, token string) (decimal.Decimal, error) {
	addr, err := parseToken(token)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := c.call(ctx, addr, erc20ABI, "totalSupply")
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: total supply %s: %w", token, err)
	}
	v, err := bigOut(out, 0)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: total supply %s: %w", token, err)
	}
	return FromBig(v), nil
}

// Pair finds the token/wrapped-native pool and its native reserve. A
// missing pool is a zero PairInfo with a nil error.
func (c *Client) Pair(ctx context.Context, token string) (domain.PairInfo, error) {
	addr, err := parseToken(token)
	if err != nil {
		return domain.PairInfo{}, err
	}
	pair, err := c.pairAddress(ctx, addr)
	if err != nil {
		return domain.PairInfo{}, fmt.Errorf("chain: pair %s: %w", token, err)
	}
	if pair == (common.Address{}) {
		return domain.PairInfo{}, nil
	}

	out, err := c.call(ctx, pair, pairABI, "token0")
	if err != nil {
		return domain.PairInfo{}, fmt.Errorf("chain: pair %s token0: %w", token, err)
	}
	token0, err := addrOut(out)
	if err != nil {
		return domain.PairInfo{}, fmt.Errorf("chain: pair %s token0: %w", token, err)
	}
	out, err = c.call(ctx, pair, pairABI, "getReserves")
	if err != nil {
		return domain.PairInfo{}, fmt.Errorf("chain: pair %s reserves: %w", token, err)
	}
	idx := 1
	if token0 == c.wrapped {
		idx = 0
	}
	reserve, err := bigOut(out, idx)
	if err != nil {
		return domain.PairInfo{}, fmt.Errorf("chain: pair %s reserves: %w", token, err)
	}
	return domain.PairInfo{Address: pair.Hex(), NativeReserve: FromBig(reserve)}, nil
}

func (c *Client) pairAddress(ctx context.Context, token common.Address) (common.Address, error) {
	out, err := c.call(ctx, c.factory, factoryABI, "getPair", token, c.wrapped)
	if err != nil {
		return common.Address{}, err
	}
	return addrOut(out)
}

// LockInfo reports the share of the pool's LP supply held by the locker and
// when it unlocks. Tokens the locker knows nothing about (its calls revert)
// report zero, which the admission filter rejects.
func (c *Client) LockInfo(ctx context.Context, token string) (domain.LockInfo, error) {
	addr, err := parseToken(token)
	if err != nil {
		return domain.LockInfo{}, err
	}
	if c.locker == (common.Address{}) {
		return domain.LockInfo{}, nil
	}
	pair, err := c.pairAddress(ctx, addr)
	if err != nil {
		return domain.LockInfo{}, fmt.Errorf("chain: lock info %s: %w", token, err)
	}
	if pair == (common.Address{}) {
		return domain.LockInfo{}, nil
	}

	out, err := c.call(ctx, c.locker, lockerABI, "getLockBalance", pair)
	if err != nil {
		return lockFallback(token, err)
	}
	locked, err := bigOut(out, 0)
	if err != nil {
		return lockFallback(token, err)
	}
	out, err = c.call(ctx, pair, pairABI, "totalSupply")
	if err != nil {
		return domain.LockInfo{}, fmt.Errorf("chain: lock info %s lp supply: %w", token, err)
	}
	lpSupply, err := bigOut(out, 0)
	if err != nil {
		return domain.LockInfo{}, fmt.Errorf("chain: lock info %s lp supply: %w", token, err)
	}
	info := domain.LockInfo{LockedPct: LockedPct(locked, lpSupply)}

	out, err = c.call(ctx, c.locker, lockerABI, "getUserLockInfo", common.Address{}, pair)
	if err != nil {
		// Unknown unlock time: report the share but no duration.
		if errors.Is(err, domain.ErrInvalidToken) {
			return info, nil
		}
		return domain.LockInfo{}, fmt.Errorf("chain: lock info %s: %w", token, err)
	}
	unlock, err := bigOut(out, 1)
	if err != nil {
		return info, nil
	}
	if unlock.IsInt64() {
		info.LockedUntil = time.Unix(unlock.Int64(), 0).UTC()
	}
	return info, nil
}

func lockFallback(token string, err error) (domain.LockInfo, error) {
	if errors.Is(err, domain.ErrInvalidToken) {
		return domain.LockInfo{}, nil
	}
	return domain.LockInfo{}, fmt.Errorf("chain: lock info %s: %w", token, err)
}

// EstimateTaxes quotes a 0.01 native buy and sells the result straight back.
// Buy and sell tax cannot be told apart this way, so both carry the round
// trip loss. Every failure is reported as ErrOracleUnavailable so callers
// reject rather than guess.
func (c *Client) EstimateTaxes(ctx context.Context, token string) (decimal.Decimal, decimal.Decimal, error) {
	addr, err := parseToken(token)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	bought, err := c.amountsOut(ctx, taxSample, c.wrapped, addr)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("chain: tax sample buy %s: %v: %w", token, err, domain.ErrOracleUnavailable)
	}
	if bought.Sign() == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("chain: tax sample buy %s returned zero: %w", token, domain.ErrOracleUnavailable)
	}
	back, err := c.amountsOut(ctx, bought, addr, c.wrapped)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("chain: tax sample sell %s: %v: %w", token, err, domain.ErrOracleUnavailable)
	}
	tax := TaxFromRoundTrip(back)
	return tax, tax, nil
}
