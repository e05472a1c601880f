package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

var (
	testRouter  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testFactory = common.HexToAddress("0x1000000000000000000000000000000000000002")
	testWrapped = common.HexToAddress("0x1000000000000000000000000000000000000003")
	testLocker  = common.HexToAddress("0x1000000000000000000000000000000000000004")
	testToken   = common.HexToAddress("0x2000000000000000000000000000000000000001")
	testPair    = common.HexToAddress("0x3000000000000000000000000000000000000001")
)

// fakeBackend answers view calls from a table keyed by contract and method.
type fakeBackend struct {
	Backend
	answers map[common.Address]map[string]func(args []any) ([]any, error)
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	methods, ok := f.answers[*msg.To]
	if !ok {
		return nil, nil
	}
	for _, contract := range []abi.ABI{routerABI, factoryABI, pairABI, erc20ABI, lockerABI} {
		m, err := contract.MethodById(msg.Data[:4])
		if err != nil {
			continue
		}
		fn, ok := methods[m.Name]
		if !ok {
			continue
		}
		args, err := m.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		out, err := fn(args)
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(out...)
	}
	return nil, fmt.Errorf("execution reverted")
}

func newTestClient(t *testing.T, fb *fakeBackend) *Client {
	t.Helper()
	c, err := NewClient(fb, ClientConfig{
		Network: Network{
			Name:          "test",
			Router:        testRouter.Hex(),
			Factory:       testFactory.Hex(),
			WrappedNative: testWrapped.Hex(),
			Locker:        testLocker.Hex(),
		},
		OracleTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestToBig(t *testing.T) {
	b, err := ToBig(decimal.RequireFromString("1500000000000000000.9"))
	if err != nil {
		t.Fatalf("ToBig: %v", err)
	}
	if b.String() != "1500000000000000000" {
		t.Fatalf("got %s", b)
	}
	if _, err := ToBig(decimal.NewFromInt(-1)); !errors.Is(err, domain.ErrArithmeticUnderflow) {
		t.Fatalf("negative err = %v", err)
	}
	if !FromBig(nil).IsZero() {
		t.Fatal("FromBig(nil) should be zero")
	}
}

func TestTaxFromRoundTrip(t *testing.T) {
	tests := []struct {
		back string
		want string
	}{
		{"9900000000000000", "0"},
		{"9950000000000000", "0"},
		{"8910000000000000", "10"},
		{"0", "100"},
	}
	for _, tt := range tests {
		back, _ := new(big.Int).SetString(tt.back, 10)
		got := TaxFromRoundTrip(back)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("TaxFromRoundTrip(%s) = %s, want %s", tt.back, got, tt.want)
		}
	}
}

func TestLockedPct(t *testing.T) {
	if got := LockedPct(big.NewInt(25), big.NewInt(100)); !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("got %s", got)
	}
	if got := LockedPct(big.NewInt(25), big.NewInt(0)); !got.IsZero() {
		t.Fatalf("zero supply got %s", got)
	}
}

func TestScaleGas(t *testing.T) {
	if got := ScaleGas(big.NewInt(100_000), 120); got.Int64() != 120_000 {
		t.Fatalf("got %s", got)
	}
}

func TestPriceAndTaxes(t *testing.T) {
	fb := &fakeBackend{answers: map[common.Address]map[string]func([]any) ([]any, error){
		testRouter: {
			"getAmountsOut": func(args []any) ([]any, error) {
				amt := args[0].(*big.Int)
				path := args[1].([]common.Address)
				// 1 token = 0.002 native; selling back loses 20%.
				if path[0] == testToken {
					out := new(big.Int).Mul(amt, big.NewInt(2))
					out.Div(out, big.NewInt(1000))
					out.Mul(out, big.NewInt(80)).Div(out, big.NewInt(100))
					return []any{[]*big.Int{amt, out}}, nil
				}
				out := new(big.Int).Mul(amt, big.NewInt(500))
				return []any{[]*big.Int{amt, out}}, nil
			},
		},
	}}
	c := newTestClient(t, fb)

	price, err := c.Price(context.Background(), testToken.Hex())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("1600000000000000")) {
		t.Fatalf("price = %s", price)
	}

	buy, sell, err := c.EstimateTaxes(context.Background(), testToken.Hex())
	if err != nil {
		t.Fatalf("EstimateTaxes: %v", err)
	}
	// back = 0.01e18 * 0.8 = 8e15; (9.9e15-8e15)*100/9.9e15 = 19.1919...
	if !buy.Equal(sell) || !buy.Equal(decimal.RequireFromString("19.1919")) {
		t.Fatalf("taxes = %s/%s", buy, sell)
	}
}

func TestPriceErrors(t *testing.T) {
	c := newTestClient(t, &fakeBackend{answers: map[common.Address]map[string]func([]any) ([]any, error){
		testRouter: {"getAmountsOut": func([]any) ([]any, error) { return nil, errors.New("execution reverted: INSUFFICIENT_LIQUIDITY") }},
	}})
	if _, err := c.Price(context.Background(), "not-an-address"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("bad address err = %v", err)
	}
	if _, err := c.Price(context.Background(), testToken.Hex()); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("revert err = %v", err)
	}

	c = newTestClient(t, &fakeBackend{answers: map[common.Address]map[string]func([]any) ([]any, error){
		testRouter: {"getAmountsOut": func([]any) ([]any, error) { return nil, context.DeadlineExceeded }},
	}})
	if _, err := c.Price(context.Background(), testToken.Hex()); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Fatalf("timeout err = %v", err)
	}
	if _, _, err := c.EstimateTaxes(context.Background(), testToken.Hex()); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Fatalf("tax err = %v", err)
	}
}

func TestPairAndLockInfo(t *testing.T) {
	unlock := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	fb := &fakeBackend{answers: map[common.Address]map[string]func([]any) ([]any, error){
		testFactory: {
			"getPair": func(args []any) ([]any, error) { return []any{testPair}, nil },
		},
		testPair: {
			"token0":      func([]any) ([]any, error) { return []any{testToken}, nil },
			"getReserves": func([]any) ([]any, error) { return []any{big.NewInt(1000), big.NewInt(7e17), uint32(0)}, nil },
			"totalSupply": func([]any) ([]any, error) { return []any{big.NewInt(400)}, nil },
		},
		testLocker: {
			"getLockBalance":  func([]any) ([]any, error) { return []any{big.NewInt(100)}, nil },
			"getUserLockInfo": func([]any) ([]any, error) { return []any{big.NewInt(100), big.NewInt(unlock.Unix())}, nil },
		},
	}}
	c := newTestClient(t, fb)

	pair, err := c.Pair(context.Background(), testToken.Hex())
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if pair.Address != testPair.Hex() || !pair.NativeReserve.Equal(decimal.NewFromInt(7e17)) {
		t.Fatalf("pair = %+v", pair)
	}

	info, err := c.LockInfo(context.Background(), testToken.Hex())
	if err != nil {
		t.Fatalf("LockInfo: %v", err)
	}
	if !info.LockedPct.Equal(decimal.NewFromInt(25)) || !info.LockedUntil.Equal(unlock) {
		t.Fatalf("lock = %+v", info)
	}
}

func TestLockInfoUnknownToLocker(t *testing.T) {
	fb := &fakeBackend{answers: map[common.Address]map[string]func([]any) ([]any, error){
		testFactory: {"getPair": func([]any) ([]any, error) { return []any{testPair}, nil }},
		testLocker:  {},
	}}
	c := newTestClient(t, fb)
	info, err := c.LockInfo(context.Background(), testToken.Hex())
	if err != nil {
		t.Fatalf("LockInfo: %v", err)
	}
	if !info.LockedPct.IsZero() || !info.LockedUntil.IsZero() {
		t.Fatalf("expected zero lock, got %+v", info)
	}
}

func TestNoPair(t *testing.T) {
	fb := &fakeBackend{answers: map[common.Address]map[string]func([]any) ([]any, error){
		testFactory: {"getPair": func([]any) ([]any, error) { return []any{common.Address{}}, nil }},
	}}
	c := newTestClient(t, fb)
	pair, err := c.Pair(context.Background(), testToken.Hex())
	if err != nil || pair.Address != "" {
		t.Fatalf("pair = %+v, err = %v", pair, err)
	}
}

func TestReceiptParsing(t *testing.T) {
	me := common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	other := common.HexToAddress("0x9000000000000000000000000000000000000009")
	amount := func(v int64) []byte { return common.LeftPadBytes(big.NewInt(v).Bytes(), 32) }
	rcpt := &types.Receipt{Logs: []*types.Log{
		{Address: testToken, Topics: []common.Hash{transferTopic, common.BytesToHash(testPair.Bytes()), common.BytesToHash(me.Bytes())}, Data: amount(900)},
		{Address: testToken, Topics: []common.Hash{transferTopic, common.BytesToHash(testPair.Bytes()), common.BytesToHash(other.Bytes())}, Data: amount(100)},
		{Address: testWrapped, Topics: []common.Hash{withdrawalTopic, common.BytesToHash(testRouter.Bytes())}, Data: amount(55)},
	}}
	if got := received(rcpt, testToken, me); got.Int64() != 900 {
		t.Fatalf("received = %s", got)
	}
	if got := unwrapped(rcpt, testWrapped, testRouter); got.Int64() != 55 {
		t.Fatalf("unwrapped = %s", got)
	}
}

func TestSwapRejectsTokenToToken(t *testing.T) {
	c := newTestClient(t, &fakeBackend{})
	c.cfg.Signer = stubSigner{}
	_, err := c.Swap(context.Background(), domain.SwapRequest{
		TokenIn:      testToken.Hex(),
		TokenOut:     testPair.Hex(),
		AmountIn:     decimal.NewFromInt(1),
		MinAmountOut: decimal.Zero,
		Deadline:     time.Now().Add(time.Minute),
	})
	if !errors.Is(err, domain.ErrSwapFailed) {
		t.Fatalf("err = %v", err)
	}
}

type stubSigner struct{}

func (stubSigner) Address() common.Address { return common.Address{1} }
func (stubSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

type refusingLimiter struct{ waits int }

func (l *refusingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func (l *refusingLimiter) Wait(context.Context, string) error {
	l.waits++
	return context.Canceled
}

func TestCallWaitsOnLimiter(t *testing.T) {
	lim := &refusingLimiter{}
	c := newTestClient(t, &fakeBackend{})
	c.cfg.Limiter = lim
	if _, err := c.TotalSupply(context.Background(), testToken.Hex()); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if lim.waits != 1 {
		t.Fatalf("waits = %d", lim.waits)
	}
}

type unminedBackend struct{ Backend }

func (unminedBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func TestWaitMinedTimeoutIsPending(t *testing.T) {
	c := newTestClient(t, &fakeBackend{})
	c.backend = unminedBackend{}
	c.cfg.ReceiptTimeout = 20 * time.Millisecond
	c.pollInterval = time.Millisecond

	_, err := c.waitMined(context.Background(), common.HexToHash("0xabc"))
	if !errors.Is(err, domain.ErrSwapPending) || errors.Is(err, domain.ErrSwapFailed) {
		t.Fatalf("err = %v", err)
	}
}
