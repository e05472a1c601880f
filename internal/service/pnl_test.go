package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/store/memory"
)

func closedPosition(id, account string, cost, pnl, fee int64, reason domain.ExitReason) domain.Position {
	at := time.Now()
	return domain.Position{
		ID:          id,
		Account:     account,
		TokenID:     "0xdone",
		CostBasis:   dec(cost),
		RealizedPnL: dec(pnl),
		ExitFee:     dec(fee),
		ExitReason:  reason,
		Status:      domain.PositionStatusClosed,
		OpenedAt:    at.Add(-time.Hour),
		ClosedAt:    &at,
	}
}

func TestPnL_ProfitLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 1)
	for _, p := range []domain.Position{
		closedPosition("c1", "alice", 100, 50, 1, domain.ExitProfitTarget),
		closedPosition("c2", "alice", 100, -20, 1, domain.ExitStopLoss),
		closedPosition("c3", "bob", 100, 999, 1, domain.ExitManual),
	} {
		if err := f.positions.Create(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	// 1000 base units held at 0.2 native per whole token, cost 100.
	f.openPosition(t, "o1", 1, time.Now())
	cache := memory.NewPriceCache()
	_ = cache.SetPrice(ctx, testToken, decimal.New(2, 17+18), time.Now())
	f.chain.priceErr = context.DeadlineExceeded

	svc := NewPnLService(f.book, f.positions, f.accounts, cache, f.chain, discardLogger())
	pl, err := svc.ProfitLoss(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !pl.Realized.Equal(dec(30)) || pl.Closed != 2 || pl.OpenPositions != 1 {
		t.Fatalf("pnl = %+v", pl)
	}
	// 1000 * 2e35 / 1e18 - 100
	want := decimal.New(2, 20).Sub(dec(100))
	if !pl.Unrealized.Equal(want) || !pl.Total.Equal(want.Add(dec(30))) {
		t.Fatalf("unrealized = %s total = %s", pl.Unrealized, pl.Total)
	}
}

func TestPnL_UnpricedPositionsExcluded(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, "o1", 1, time.Now())
	f.chain.priceErr = context.DeadlineExceeded

	pl, err := NewPnLService(f.book, f.positions, f.accounts, nil, f.chain, discardLogger()).ProfitLoss(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !pl.Unrealized.IsZero() || pl.OpenPositions != 1 {
		t.Fatalf("pnl = %+v", pl)
	}
}

func TestPnL_Stats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 1)
	f.fund(t, "bob", 1)
	for _, p := range []domain.Position{
		closedPosition("c1", "alice", 100, 50, 2, domain.ExitProfitTarget),
		closedPosition("c2", "alice", 100, -20, 3, domain.ExitStopLoss),
		closedPosition("c3", "bob", 200, 100, 5, domain.ExitProfitTarget),
	} {
		if err := f.positions.Create(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	f.openPosition(t, "o1", 1, time.Now())

	st, err := NewPnLService(f.book, f.positions, f.accounts, nil, nil, discardLogger()).Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalAccounts != 2 || st.TotalPositions != 4 || st.OpenPositions != 1 || st.ClosedPositions != 3 {
		t.Fatalf("stats = %+v", st)
	}
	if st.Profitable != 2 || !st.SuccessRatePct.Equal(decimal.RequireFromString("66.67")) {
		t.Fatalf("success = %d %s", st.Profitable, st.SuccessRatePct)
	}
	// (50 - 20 + 50) / 3
	if !st.AvgProfitPct.Equal(decimal.RequireFromString("26.67")) {
		t.Fatalf("avg = %s", st.AvgProfitPct)
	}
	if !st.TotalFees.Equal(dec(10)) || !st.RealizedPnL.Equal(dec(130)) {
		t.Fatalf("fees = %s pnl = %s", st.TotalFees, st.RealizedPnL)
	}
	if st.ExitsByReason["profit_target"] != 2 || st.ExitsByReason["stop_loss"] != 1 {
		t.Fatalf("by reason = %v", st.ExitsByReason)
	}
}

// growingStore opens a newer position right after serving the first page.
type growingStore struct {
	*memory.PositionStore
	pages int
	grow  func()
}

func (g *growingStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	out, err := g.PositionStore.List(ctx, opts)
	if g.pages == 0 {
		g.grow()
	}
	g.pages++
	return out, err
}

func TestPnL_StatsStableWhileRowsArrive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().Add(-24 * time.Hour)
	for i := range statsPageSize + 1 {
		p := closedPosition(fmt.Sprintf("c%04d", i), "alice", 100, 1, 0, domain.ExitProfitTarget)
		p.OpenedAt = base.Add(time.Duration(i) * time.Second)
		if err := f.positions.Create(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	store := &growingStore{PositionStore: f.positions, grow: func() {
		if err := f.positions.Create(ctx, closedPosition("late", "bob", 100, 1, 0, domain.ExitManual)); err != nil {
			t.Error(err)
		}
	}}

	st, err := NewPnLService(f.book, store, f.accounts, nil, nil, discardLogger()).Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalPositions != statsPageSize+1 || st.ExitsByReason[string(domain.ExitManual)] != 0 {
		t.Fatalf("stats = %+v, want every row exactly once", st)
	}
	if store.pages != 2 {
		t.Fatalf("pages = %d", store.pages)
	}
}
