// Package chain talks to a Uniswap-V2 style DEX over JSON-RPC. It implements
// the domain oracles, the swap executor and the new-pair scanner.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// Backend is the subset of *ethclient.Client the adapter uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// TxSigner signs outgoing transactions.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Observer receives the latency and outcome of every contract call.
type Observer interface {
	ObserveCall(method string, elapsed time.Duration, err error)
}

// Network holds the DEX contract addresses of the active chain.
type Network struct {
	Name          string
	ChainID       int64
	Router        string
	Factory       string
	WrappedNative string
	Locker        string
	BuyMethod     string
	SellMethod    string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Network        Network
	OracleTimeout  time.Duration
	ReceiptTimeout time.Duration
	// GasMultiplierPct is read per transaction so policy changes apply
	// without a restart. Nil means 100.
	GasMultiplierPct func() int64
	Signer           TxSigner
	Observer         Observer
	// Limiter throttles view calls against the RPC provider. Optional.
	Limiter domain.RateLimiter
	Logger  *slog.Logger
}

// Client is the chain adapter.
type Client struct {
	backend Backend
	cfg     ClientConfig

	router, factory, wrapped, locker common.Address
	pollInterval                     time.Duration
	logger                           *slog.Logger
}

// Dial connects to rpcURL and returns a Client bound to it.
func Dial(ctx context.Context, rpcURL string, cfg ClientConfig) (*Client, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	ec := ethclient.NewClient(rc)

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	id, err := ec.ChainID(cctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if cfg.Network.ChainID != 0 && id.Int64() != cfg.Network.ChainID {
		ec.Close()
		return nil, fmt.Errorf("chain: rpc serves chain %s, network %s expects %d", id, cfg.Network.Name, cfg.Network.ChainID)
	}
	return NewClient(ec, cfg)
}

// NewClient wraps an existing backend. Addresses are validated up front.
func NewClient(backend Backend, cfg ClientConfig) (*Client, error) {
	n := cfg.Network
	for name, addr := range map[string]string{"router": n.Router, "factory": n.Factory, "wrapped_native": n.WrappedNative} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("chain: invalid %s address %q", name, addr)
		}
	}
	if n.Locker != "" && !common.IsHexAddress(n.Locker) {
		return nil, fmt.Errorf("chain: invalid locker address %q", n.Locker)
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 5 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if n.BuyMethod == "" {
		cfg.Network.BuyMethod = "swapExactETHForTokens"
	}
	if n.SellMethod == "" {
		cfg.Network.SellMethod = "swapExactTokensForETH"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		backend:      backend,
		cfg:          cfg,
		router:       common.HexToAddress(n.Router),
		factory:      common.HexToAddress(n.Factory),
		wrapped:      common.HexToAddress(n.WrappedNative),
		pollInterval: 2 * time.Second,
		logger:       logger.With(slog.String("component", "chain")),
	}
	if n.Locker != "" {
		c.locker = common.HexToAddress(n.Locker)
	}
	return c, nil
}

// Close releases the RPC connection when the backend owns one.
func (c *Client) Close() {
	if cl, ok := c.backend.(interface{ Close() }); ok {
		cl.Close()
	}
}

// NativeToken is the wrapped native address used as the quote currency.
func (c *Client) NativeToken() string {
	return c.wrapped.Hex()
}

// Network returns the active network.
func (c *Client) Network() Network {
	return c.cfg.Network
}

// Ping checks that the RPC endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.OracleTimeout)
	defer cancel()
	if _, err := c.backend.SuggestGasPrice(cctx); err != nil {
		return fmt.Errorf("chain: ping: %w", err)
	}
	return nil
}

const rpcLimitKey = "ratelimit:rpc"

// call packs, executes and unpacks one view call under the oracle timeout.
func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx, rpcLimitKey); err != nil {
			return nil, fmt.Errorf("%s: rate limit: %v: %w", method, err, domain.ErrOracleUnavailable)
		}
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.OracleTimeout)
	defer cancel()

	start := time.Now()
	ret, err := c.backend.CallContract(cctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		err = classify(method, err)
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveCall(method, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	if len(ret) == 0 {
		// Calls to an address without code return empty data.
		return nil, fmt.Errorf("%s: empty return: %w", method, domain.ErrInvalidToken)
	}
	out, err := contract.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %v: %w", method, err, domain.ErrInvalidToken)
	}
	return out, nil
}

// classify maps a call failure onto the domain taxonomy: reverts mean the
// contract refused (bad token), anything else means we could not ask.
func classify(method string, err error) error {
	if isRevert(err) {
		return fmt.Errorf("%s reverted: %v: %w", method, err, domain.ErrInvalidToken)
	}
	return fmt.Errorf("%s: %v: %w", method, err, domain.ErrOracleUnavailable)
}

func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) && de.ErrorData() != nil {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func parseToken(token string) (common.Address, error) {
	if !common.IsHexAddress(token) {
		return common.Address{}, fmt.Errorf("chain: token %q: %w", token, domain.ErrInvalidToken)
	}
	addr := common.HexToAddress(token)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("chain: zero token address: %w", domain.ErrInvalidToken)
	}
	return addr, nil
}

func bigOut(out []any, i int) (*big.Int, error) {
	if len(out) <= i {
		return nil, fmt.Errorf("missing output %d: %w", i, domain.ErrInvalidToken)
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d is %T: %w", i, out[i], domain.ErrInvalidToken)
	}
	return v, nil
}

func addrOut(out []any) (common.Address, error) {
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("missing address output: %w", domain.ErrInvalidToken)
	}
	v, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("output is %T: %w", out[0], domain.ErrInvalidToken)
	}
	return v, nil
}
