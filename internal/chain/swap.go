package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// Swap executes a native->token buy or a token->native sell through the
// router and returns the amount actually received. The router itself
// enforces MinAmountOut and Deadline; a revert surfaces as ErrSwapFailed and
// a transaction still unmined after ReceiptTimeout as ErrSwapPending.
func (c *Client) Swap(ctx context.Context, req domain.SwapRequest) (decimal.Decimal, error) {
	if c.cfg.Signer == nil {
		return decimal.Zero, fmt.Errorf("chain: swap: no signer configured: %w", domain.ErrSwapFailed)
	}
	in, err := parseToken(req.TokenIn)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := parseToken(req.TokenOut)
	if err != nil {
		return decimal.Zero, err
	}
	amountIn, err := ToBig(req.AmountIn)
	if err != nil {
		return decimal.Zero, err
	}
	minOut, err := ToBig(req.MinAmountOut)
	if err != nil {
		return decimal.Zero, err
	}
	if amountIn.Sign() == 0 {
		return decimal.Zero, fmt.Errorf("chain: swap: zero amount: %w", domain.ErrSwapFailed)
	}
	deadline := big.NewInt(req.Deadline.Unix())
	me := c.cfg.Signer.Address()

	switch {
	case in == c.wrapped:
		data, err := routerABI.Pack(c.cfg.Network.BuyMethod, minOut, []common.Address{c.wrapped, out}, me, deadline)
		if err != nil {
			return decimal.Zero, fmt.Errorf("chain: pack buy: %w", err)
		}
		rcpt, err := c.transact(ctx, c.router, amountIn, data)
		if err != nil {
			return decimal.Zero, fmt.Errorf("chain: buy %s: %w", req.TokenOut, err)
		}
		got := received(rcpt, out, me)
		c.logger.InfoContext(ctx, "chain: bought",
			slog.String("token", out.Hex()),
			slog.String("spent", amountIn.String()),
			slog.String("received", got.String()),
			slog.String("tx", rcpt.TxHash.Hex()),
		)
		return FromBig(got), nil

	case out == c.wrapped:
		if err := c.ensureAllowance(ctx, in, amountIn); err != nil {
			return decimal.Zero, fmt.Errorf("chain: sell %s: %w", req.TokenIn, err)
		}
		data, err := routerABI.Pack(c.cfg.Network.SellMethod, amountIn, minOut, []common.Address{in, c.wrapped}, me, deadline)
		if err != nil {
			return decimal.Zero, fmt.Errorf("chain: pack sell: %w", err)
		}
		rcpt, err := c.transact(ctx, c.router, nil, data)
		if err != nil {
			return decimal.Zero, fmt.Errorf("chain: sell %s: %w", req.TokenIn, err)
		}
		got := unwrapped(rcpt, c.wrapped, c.router)
		c.logger.InfoContext(ctx, "chain: sold",
			slog.String("token", in.Hex()),
			slog.String("amount", amountIn.String()),
			slog.String("received", got.String()),
			slog.String("tx", rcpt.TxHash.Hex()),
		)
		return FromBig(got), nil
	}
	return decimal.Zero, fmt.Errorf("chain: swap %s->%s: one side must be the native token: %w", req.TokenIn, req.TokenOut, domain.ErrSwapFailed)
}

// ensureAllowance approves the router for exactly amount when the current
// allowance is short.
func (c *Client) ensureAllowance(ctx context.Context, token common.Address, amount *big.Int) error {
	out, err := c.call(ctx, token, erc20ABI, "allowance", c.cfg.Signer.Address(), c.router)
	if err != nil {
		return fmt.Errorf("allowance: %w", err)
	}
	current, err := bigOut(out, 0)
	if err != nil {
		return fmt.Errorf("allowance: %w", err)
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	data, err := erc20ABI.Pack("approve", c.router, amount)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	if _, err := c.transact(ctx, token, nil, data); err != nil {
		// No sale was sent yet, so an unmined approval is a plain failure.
		if errors.Is(err, domain.ErrSwapPending) {
			return fmt.Errorf("approve: %v: %w", err, domain.ErrSwapFailed)
		}
		return fmt.Errorf("approve: %w", err)
	}
	return nil
}

// transact signs, sends and waits for one transaction. Gas price is the
// node suggestion scaled by the gas multiplier.
func (c *Client) transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	from := c.cfg.Signer.Address()
	if value == nil {
		value = new(big.Int)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %v: %w", err, domain.ErrSwapFailed)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %v: %w", err, domain.ErrSwapFailed)
	}
	gasPrice = ScaleGas(gasPrice, c.gasMultiplier())

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		// Estimation runs the call, so a revert here is the swap failing.
		return nil, fmt.Errorf("estimate gas: %v: %w", err, domain.ErrSwapFailed)
	}
	gas = gas * 12 / 10

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.cfg.Signer.SignTx(tx)
	if err != nil {
		return nil, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %v: %w", err, domain.ErrSwapFailed)
	}

	rcpt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return rcpt, fmt.Errorf("tx %s reverted: %w", signed.Hash().Hex(), domain.ErrSwapFailed)
	}
	return rcpt, nil
}

func (c *Client) gasMultiplier() int64 {
	if c.cfg.GasMultiplierPct == nil {
		return 100
	}
	if m := c.cfg.GasMultiplierPct(); m >= 100 {
		return m
	}
	return 100
}

// waitMined polls for the receipt until it appears or ReceiptTimeout passes.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		rcpt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && rcpt != nil {
			return rcpt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.WarnContext(ctx, "chain: receipt poll failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tx %s not mined: %v: %w", hash.Hex(), ctx.Err(), domain.ErrSwapPending)
		case <-ticker.C:
		}
	}
}

// ScaleGas returns price * pct / 100.
func ScaleGas(price *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(price, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}

// received sums ERC-20 Transfer logs of token paid to recipient. Using the
// logs rather than the quote accounts for fee-on-transfer tokens.
func received(rcpt *types.Receipt, token, recipient common.Address) *big.Int {
	total := new(big.Int)
	for _, lg := range rcpt.Logs {
		if lg.Address != token || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != recipient {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
	}
	return total
}

// unwrapped sums the wrapped-native Withdrawal logs emitted when the router
// unwraps sale proceeds for us.
func unwrapped(rcpt *types.Receipt, wrapped, router common.Address) *big.Int {
	total := new(big.Int)
	for _, lg := range rcpt.Logs {
		if lg.Address != wrapped || len(lg.Topics) != 2 || lg.Topics[0] != withdrawalTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[1].Bytes()) != router {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
	}
	return total
}
