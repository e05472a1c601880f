package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/policy"
	"github.com/alanyoungcy/dexsniper/internal/store/memory"
)

const (
	testOperator = "0xoperator"
	testToken    = "0xtoken"
	nativeToken  = "0xweth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// fakeChain serves every oracle and the swap router from fixed values.
type fakeChain struct {
	mu sync.Mutex

	pair     domain.PairInfo
	pairErr  error
	price    decimal.Decimal
	prices   map[string]decimal.Decimal
	priceErr error
	supply   decimal.Decimal
	lock     domain.LockInfo
	lockErr  error
	buyTax   decimal.Decimal
	sellTax  decimal.Decimal
	taxErr   error

	quote   decimal.Decimal
	fill    decimal.Decimal
	swapErr error
	swaps   []domain.SwapRequest
}

// admissibleChain passes every admission check under policy.Default.
func admissibleChain() *fakeChain {
	return &fakeChain{
		pair:   domain.PairInfo{Address: "0xpair", NativeReserve: decimal.New(10, 18)},
		price:  dec(50_000_000),
		supply: decimal.New(1, 27),
		lock: domain.LockInfo{
			LockedPct:   dec(80),
			LockedUntil: time.Now().Add(365 * 24 * time.Hour),
		},
		buyTax:  dec(2),
		sellTax: dec(3),
		quote:   dec(1000),
		fill:    dec(1000),
	}
}

func (f *fakeChain) oracles() Oracles {
	return Oracles{Price: f, Liquidity: f, Token: f, Tax: f}
}

func (f *fakeChain) setPrice(token string, p decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prices == nil {
		f.prices = map[string]decimal.Decimal{}
	}
	f.prices[token] = p
}

func (f *fakeChain) Price(_ context.Context, tokenID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return decimal.Zero, f.priceErr
	}
	if p, ok := f.prices[tokenID]; ok {
		return p, nil
	}
	return f.price, nil
}

func (f *fakeChain) Pair(context.Context, string) (domain.PairInfo, error) {
	return f.pair, f.pairErr
}

func (f *fakeChain) LockInfo(context.Context, string) (domain.LockInfo, error) {
	return f.lock, f.lockErr
}

func (f *fakeChain) TotalSupply(context.Context, string) (decimal.Decimal, error) {
	return f.supply, nil
}

func (f *fakeChain) EstimateTaxes(context.Context, string) (decimal.Decimal, decimal.Decimal, error) {
	return f.buyTax, f.sellTax, f.taxErr
}

func (f *fakeChain) Quote(context.Context, string, string, decimal.Decimal) (decimal.Decimal, error) {
	return f.quote, nil
}

func (f *fakeChain) Swap(_ context.Context, req domain.SwapRequest) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swaps = append(f.swaps, req)
	if f.swapErr != nil {
		return decimal.Zero, f.swapErr
	}
	return f.fill, nil
}

func (f *fakeChain) NativeToken() string { return nativeToken }

// recordingTelemetry counts the calls the tests look at.
type recordingTelemetry struct {
	NopTelemetry
	mu       sync.Mutex
	snipes   []string
	policies []int64
}

func (r *recordingTelemetry) ObserveSnipe(outcome string) {
	r.mu.Lock()
	r.snipes = append(r.snipes, outcome)
	r.mu.Unlock()
}

func (r *recordingTelemetry) ObservePolicy(version int64, _ bool) {
	r.mu.Lock()
	r.policies = append(r.policies, version)
	r.mu.Unlock()
}

type fixture struct {
	chain     *fakeChain
	positions *memory.PositionStore
	accounts  *memory.AccountStore
	audit     *memory.AuditStore
	versions  *memory.PolicyStore
	blacklist *memory.BlacklistStore
	bus       *memory.Bus
	policy    *PolicyService
	book      *PositionBook
	ledger    *Ledger
	snipes    *SnipeService
	telemetry *recordingTelemetry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := discardLogger()
	f := &fixture{
		chain:     admissibleChain(),
		positions: memory.NewPositionStore(),
		accounts:  memory.NewAccountStore(),
		audit:     memory.NewAuditStore(),
		versions:  memory.NewPolicyStore(),
		blacklist: memory.NewBlacklistStore(),
		bus:       memory.NewBus(0),
		telemetry: &recordingTelemetry{},
	}
	var err error
	f.policy, err = RestorePolicy(ctx, testOperator, policy.Default(), nil, f.versions, f.blacklist, f.audit, f.bus, logger)
	if err != nil {
		t.Fatalf("RestorePolicy: %v", err)
	}
	f.book = NewPositionBook(f.positions, logger)
	f.ledger = NewLedger(f.accounts, f.audit, logger)
	f.snipes = NewSnipeService(SnipeDeps{
		Network:   "testnet",
		Policy:    f.policy,
		Snapshots: NewSnapshotBuilder(f.chain.oracles()),
		Swaps:     f.chain,
		Book:      f.book,
		Ledger:    f.ledger,
		Audit:     f.audit,
		Bus:       f.bus,
		Telemetry: f.telemetry,
		Logger:    logger,
	})
	return f
}

func (f *fixture) fund(t *testing.T, account string, amount int64) {
	t.Helper()
	if _, err := f.ledger.Deposit(context.Background(), account, dec(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	a, err := f.ledger.Balance(context.Background(), account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return a.Balance
}

// openPosition puts an open position straight into the book.
func (f *fixture) openPosition(t *testing.T, id string, entry int64, openedAt time.Time) domain.Position {
	t.Helper()
	p := domain.Position{
		ID:           id,
		Account:      "alice",
		TokenID:      testToken,
		EntryPrice:   dec(entry),
		HighestPrice: dec(entry),
		AmountHeld:   dec(1000),
		CostBasis:    dec(100),
		OpenedAt:     openedAt,
		Status:       domain.PositionStatusOpen,
	}
	if err := f.book.Open(context.Background(), p); err != nil {
		t.Fatalf("open: %v", err)
	}
	return p
}
