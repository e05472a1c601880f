package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/policy"
	"github.com/alanyoungcy/dexsniper/internal/service"
	"github.com/alanyoungcy/dexsniper/internal/store/memory"
)

const operator = "0xoperator"

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fakeRouter struct {
	mu       sync.Mutex
	quote    decimal.Decimal
	quoteErr error
	fill     decimal.Decimal
	swapErr  error
	swaps    []domain.SwapRequest
}

func (r *fakeRouter) Quote(context.Context, string, string, decimal.Decimal) (decimal.Decimal, error) {
	return r.quote, r.quoteErr
}

func (r *fakeRouter) Swap(_ context.Context, req domain.SwapRequest) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swaps = append(r.swaps, req)
	if r.swapErr != nil {
		return decimal.Zero, r.swapErr
	}
	return r.fill, nil
}

func (r *fakeRouter) NativeToken() string { return "0xweth" }

type harness struct {
	router    *fakeRouter
	positions *memory.PositionStore
	accounts  *memory.AccountStore
	audit     *memory.AuditStore
	bus       *memory.Bus
	book      *service.PositionBook
	ledger    *service.Ledger
	exits     *ExitExecutor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		router:    &fakeRouter{quote: dec(1000), fill: dec(1000)},
		positions: memory.NewPositionStore(),
		accounts:  memory.NewAccountStore(),
		audit:     memory.NewAuditStore(),
		bus:       memory.NewBus(0),
	}
	pol, err := service.RestorePolicy(ctx, operator, policy.Default(), nil,
		memory.NewPolicyStore(), memory.NewBlacklistStore(), h.audit, h.bus, logger)
	if err != nil {
		t.Fatal(err)
	}
	h.book = service.NewPositionBook(h.positions, logger)
	h.ledger = service.NewLedger(h.accounts, h.audit, logger)
	h.exits = New(Deps{
		Policy: pol,
		Book:   h.book,
		Swaps:  h.router,
		Ledger: h.ledger,
		Audit:  h.audit,
		Bus:    h.bus,
		Logger: logger,
	})

	if _, err := h.ledger.Deposit(ctx, "alice", dec(1)); err != nil {
		t.Fatal(err)
	}
	if err := h.book.Open(ctx, domain.Position{
		ID:           "p1",
		Account:      "alice",
		TokenID:      "0xtoken",
		EntryPrice:   dec(100),
		HighestPrice: dec(100),
		AmountHeld:   dec(5000),
		CostBasis:    dec(800),
		OpenedAt:     time.Now(),
		Status:       domain.PositionStatusOpen,
	}); err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	a, err := h.ledger.Balance(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	return a.Balance
}

func TestExit_SettlesAndCredits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pos, err := h.exits.Exit(ctx, "p1", domain.ExitProfitTarget)
	if err != nil {
		t.Fatal(err)
	}
	// 1000 gross, 50 bps fee = 5, net 995, cost 800.
	if pos.IsOpen() || pos.ExitReason != domain.ExitProfitTarget {
		t.Fatalf("position = %+v", pos)
	}
	if !pos.ExitFee.Equal(dec(5)) || !pos.ExitProceeds.Equal(dec(995)) || !pos.RealizedPnL.Equal(dec(195)) {
		t.Fatalf("fee = %s net = %s pnl = %s", pos.ExitFee, pos.ExitProceeds, pos.RealizedPnL)
	}
	if got := h.balance(t); !got.Equal(dec(996)) {
		t.Fatalf("balance = %s", got)
	}

	req := h.router.swaps[0]
	if req.TokenIn != "0xtoken" || req.TokenOut != "0xweth" || !req.AmountIn.Equal(dec(5000)) || !req.MinAmountOut.Equal(dec(950)) {
		t.Fatalf("swap = %+v", req)
	}

	if h.book.Count() != 0 {
		t.Fatal("closed position still in book")
	}
	stored, _ := h.positions.GetByID(ctx, "p1")
	if stored.IsOpen() {
		t.Fatal("store not updated")
	}

	msgs, _ := h.bus.StreamRead(ctx, domain.StreamExits, "0", 10)
	if len(msgs) != 1 {
		t.Fatalf("exit stream = %d entries", len(msgs))
	}
	var rec ExitRecord
	if err := json.Unmarshal(msgs[0].Payload, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Position.ID != "p1" || !rec.Result.NetProceeds.Equal(dec(995)) {
		t.Fatalf("record = %+v", rec)
	}

	events := h.audit.Events()
	if events[len(events)-1] != "position.closed" {
		t.Fatalf("audit = %v", events)
	}
}

func TestExit_SecondExitIsAlreadyClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.exits.Exit(ctx, "p1", domain.ExitStopLoss); err != nil {
		t.Fatal(err)
	}
	if _, err := h.exits.Exit(ctx, "p1", domain.ExitStopLoss); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("got %v", err)
	}
	if len(h.router.swaps) != 1 {
		t.Fatalf("swaps = %d", len(h.router.swaps))
	}
}

func TestExit_SwapFailureKeepsPositionOpen(t *testing.T) {
	h := newHarness(t)
	h.router.swapErr = domain.ErrSwapFailed

	if _, err := h.exits.Exit(context.Background(), "p1", domain.ExitTimeLimit); !errors.Is(err, domain.ErrSwapFailed) {
		t.Fatalf("got %v", err)
	}
	p, ok := h.book.Get("p1")
	if !ok || !p.IsOpen() {
		t.Fatal("position should stay open for the next tick")
	}
	if got := h.balance(t); !got.Equal(dec(1)) {
		t.Fatalf("balance = %s", got)
	}
}

func TestExit_FillBelowSlippageSettlesOnFill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.router.fill = dec(949)

	pos, err := h.exits.Exit(ctx, "p1", domain.ExitStopLoss)
	if err != nil {
		t.Fatal(err)
	}
	// 949 gross, 50 bps fee = 4.745.
	if pos.IsOpen() || !pos.ExitProceeds.Equal(decimal.RequireFromString("944.255")) {
		t.Fatalf("position = %+v", pos)
	}
	if got := h.balance(t); !got.Equal(decimal.RequireFromString("945.255")) {
		t.Fatalf("balance = %s", got)
	}

	if _, err := h.exits.Exit(ctx, "p1", domain.ExitStopLoss); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("got %v", err)
	}
	if len(h.router.swaps) != 1 {
		t.Fatalf("swaps = %d, want one sale per position", len(h.router.swaps))
	}
}

func TestExit_PendingSwapParksPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.router.swapErr = fmt.Errorf("tx 0xabc not mined: %w", domain.ErrSwapPending)

	if _, err := h.exits.Exit(ctx, "p1", domain.ExitStopLoss); !errors.Is(err, domain.ErrSwapPending) {
		t.Fatalf("got %v", err)
	}
	p, ok := h.book.Get("p1")
	if !ok || !p.IsOpen() {
		t.Fatal("position should stay open until reconciled")
	}

	// Even once the router would succeed, the parked position is not sold again.
	h.router.swapErr = nil
	if _, err := h.exits.Exit(ctx, "p1", domain.ExitStopLoss); !errors.Is(err, domain.ErrSwapPending) {
		t.Fatalf("got %v", err)
	}
	if _, err := h.exits.ManualExit(ctx, "alice", "p1"); !errors.Is(err, domain.ErrSwapPending) {
		t.Fatalf("got %v", err)
	}
	if len(h.router.swaps) != 1 {
		t.Fatalf("swaps = %d, want one sale per position", len(h.router.swaps))
	}
	if got := h.balance(t); !got.Equal(dec(1)) {
		t.Fatalf("balance = %s", got)
	}
	events := h.audit.Events()
	if events[len(events)-1] != "position.exit_pending" {
		t.Fatalf("audit = %v", events)
	}
}

func TestExit_PendingHoldExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	locks := NewLocalLocks()
	now := time.Now()
	locks.clock = func() time.Time { return now }
	h.exits.d.Locks = locks
	h.router.swapErr = domain.ErrSwapPending

	if _, err := h.exits.Exit(ctx, "p1", domain.ExitStopLoss); !errors.Is(err, domain.ErrSwapPending) {
		t.Fatalf("got %v", err)
	}
	now = now.Add(h.exits.d.PendingHold + time.Second)
	h.router.swapErr = nil
	if _, err := h.exits.Exit(ctx, "p1", domain.ExitStopLoss); err != nil {
		t.Fatalf("exit after hold: %v", err)
	}
	if len(h.router.swaps) != 2 {
		t.Fatalf("swaps = %d", len(h.router.swaps))
	}
}

func TestExit_LockedPositionIsSkipped(t *testing.T) {
	h := newHarness(t)
	unlock, err := h.exits.d.Locks.Acquire(context.Background(), "exit:p1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	if _, err := h.exits.Exit(context.Background(), "p1", domain.ExitStopLoss); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("got %v", err)
	}
	if len(h.router.swaps) != 0 {
		t.Fatal("swapped while locked")
	}
}

func TestManualExit_OwnerOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.exits.ManualExit(ctx, "mallory", "p1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("got %v", err)
	}
	pos, err := h.exits.ManualExit(ctx, "alice", "p1")
	if err != nil || pos.ExitReason != domain.ExitManual {
		t.Fatalf("got %+v %v", pos, err)
	}
}

func TestEmergencyExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.exits.EmergencyExit(ctx, "alice", "p1", false); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("got %v", err)
	}

	// A forced exit takes whatever the pool returns.
	h.router.quoteErr = errors.New("quoter reverted")
	h.router.fill = dec(10)
	pos, err := h.exits.EmergencyExit(ctx, operator, "p1", true)
	if err != nil {
		t.Fatal(err)
	}
	if pos.ExitReason != domain.ExitEmergencyExit || !pos.ExitProceeds.Equal(dec(10)) || !pos.RealizedPnL.Equal(dec(-790)) {
		t.Fatalf("position = %+v", pos)
	}
	if !h.router.swaps[0].MinAmountOut.IsZero() {
		t.Fatalf("forced min out = %s", h.router.swaps[0].MinAmountOut)
	}
}

func TestLocalLocks(t *testing.T) {
	l := NewLocalLocks()
	now := time.Unix(0, 0)
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, "k", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("got %v", err)
	}

	now = now.Add(2 * time.Second)
	unlock2, err := l.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("expired lock should be taken over: %v", err)
	}
	unlock() // stale holder must not release the new one
	if _, err := l.Acquire(ctx, "k", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("got %v", err)
	}
	unlock2()
	if _, err := l.Acquire(ctx, "k", time.Second); err != nil {
		t.Fatal(err)
	}
}
