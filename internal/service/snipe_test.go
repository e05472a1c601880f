package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

func TestSnipe_OpensPosition(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := f.bus.Subscribe(ctx, domain.ChannelPositions)
	f.fund(t, "alice", 500)

	pos, err := f.snipes.Snipe(ctx, SnipeRequest{Account: "alice", TokenID: "0xTOKEN", Amount: dec(200)})
	if err != nil {
		t.Fatal(err)
	}
	if pos.TokenID != testToken || pos.Network != "testnet" || !pos.IsOpen() {
		t.Fatalf("position = %+v", pos)
	}
	if !pos.EntryPrice.Equal(f.chain.price) || !pos.HighestPrice.Equal(f.chain.price) {
		t.Fatalf("entry = %s highest = %s", pos.EntryPrice, pos.HighestPrice)
	}
	if !pos.CostBasis.Equal(dec(200)) || !pos.AmountHeld.Equal(f.chain.fill) {
		t.Fatalf("cost = %s held = %s", pos.CostBasis, pos.AmountHeld)
	}
	if pos.PolicyVersion != 1 {
		t.Fatalf("policy version = %d", pos.PolicyVersion)
	}
	if got := f.balance(t, "alice"); !got.Equal(dec(300)) {
		t.Fatalf("balance = %s", got)
	}

	req := f.chain.swaps[0]
	if req.TokenIn != nativeToken || req.TokenOut != testToken {
		t.Fatalf("swap = %+v", req)
	}
	if !req.MinAmountOut.Equal(dec(950)) {
		t.Fatalf("min out = %s, want quote less 5%%", req.MinAmountOut)
	}
	if _, ok := f.book.Get(pos.ID); !ok {
		t.Fatal("position missing from book")
	}

	select {
	case raw := <-events:
		var ev PositionEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Event != EventPositionOpened || ev.Position.ID != pos.ID {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no position event")
	}
	if f.telemetry.snipes[len(f.telemetry.snipes)-1] != "opened" {
		t.Fatalf("outcomes = %v", f.telemetry.snipes)
	}
}

func TestSnipe_Refusals(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*testing.T, *fixture)
		amount  int64
		wantErr error
		outcome string
	}{
		{
			name: "paused",
			setup: func(t *testing.T, f *fixture) {
				if _, err := f.policy.SetPaused(context.Background(), testOperator, true); err != nil {
					t.Fatal(err)
				}
			},
			amount:  100,
			wantErr: domain.ErrPaused,
			outcome: "paused",
		},
		{
			name:    "zero amount",
			setup:   func(*testing.T, *fixture) {},
			amount:  0,
			wantErr: domain.ErrInvalidAmount,
			outcome: "error",
		},
		{
			name:    "insufficient funds",
			setup:   func(*testing.T, *fixture) {},
			amount:  501,
			wantErr: domain.ErrInsufficientFunds,
			outcome: "insufficient_funds",
		},
		{
			name:    "rejected by filter",
			setup:   func(_ *testing.T, f *fixture) { f.chain.sellTax = dec(50) },
			amount:  100,
			wantErr: domain.ErrAdmissionRejected,
			outcome: "rejected",
		},
		{
			name: "blacklisted",
			setup: func(t *testing.T, f *fixture) {
				if _, err := f.policy.AddBlacklist(context.Background(), testOperator, testToken, "scam"); err != nil {
					t.Fatal(err)
				}
			},
			amount:  100,
			wantErr: domain.ErrAdmissionRejected,
			outcome: "rejected",
		},
		{
			name:    "oracle down",
			setup:   func(_ *testing.T, f *fixture) { f.chain.pairErr = fmt.Errorf("rpc: %w", domain.ErrOracleUnavailable) },
			amount:  100,
			wantErr: domain.ErrOracleUnavailable,
			outcome: "rejected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fund(t, "alice", 500)
			tt.setup(t, f)

			_, err := f.snipes.Snipe(context.Background(), SnipeRequest{Account: "alice", TokenID: testToken, Amount: dec(tt.amount)})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if got := f.balance(t, "alice"); !got.Equal(dec(500)) {
				t.Fatalf("balance moved to %s", got)
			}
			if len(f.chain.swaps) != 0 {
				t.Fatal("swap attempted")
			}
			if f.book.Count() != 0 {
				t.Fatal("position opened")
			}
			if got := f.telemetry.snipes[len(f.telemetry.snipes)-1]; got != tt.outcome {
				t.Fatalf("outcome = %q, want %q", got, tt.outcome)
			}
		})
	}
}

func TestSnipe_RejectionCarriesReason(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 500)
	f.chain.supply = f.chain.supply.Mul(dec(100))

	_, err := f.snipes.Snipe(context.Background(), SnipeRequest{Account: "alice", TokenID: testToken, Amount: dec(100)})
	var admErr *domain.AdmissionError
	if !errors.As(err, &admErr) || admErr.Reason != domain.RejectSupplyExceeded {
		t.Fatalf("got %v", err)
	}
}

func TestSnipe_SwapFailureRefunds(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 500)
	f.chain.swapErr = fmt.Errorf("reverted: %w", domain.ErrSwapFailed)

	_, err := f.snipes.Snipe(context.Background(), SnipeRequest{Account: "alice", TokenID: testToken, Amount: dec(200)})
	if !errors.Is(err, domain.ErrSwapFailed) {
		t.Fatalf("got %v", err)
	}
	if got := f.balance(t, "alice"); !got.Equal(dec(500)) {
		t.Fatalf("balance = %s, want refund to 500", got)
	}
	if f.book.Count() != 0 {
		t.Fatal("position opened after failed swap")
	}
}

func TestSnipe_PendingSwapKeepsDebit(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 500)
	f.chain.swapErr = fmt.Errorf("tx 0xabc not mined: %w", domain.ErrSwapPending)

	_, err := f.snipes.Snipe(context.Background(), SnipeRequest{Account: "alice", TokenID: testToken, Amount: dec(200)})
	if !errors.Is(err, domain.ErrSwapPending) {
		t.Fatalf("got %v", err)
	}
	if got := f.balance(t, "alice"); !got.Equal(dec(300)) {
		t.Fatalf("balance = %s, a buy that may land must not be refunded", got)
	}
	if f.book.Count() != 0 {
		t.Fatal("position opened without a fill")
	}
	if got := snipeOutcome(err); got != "swap_pending" {
		t.Fatalf("outcome = %q", got)
	}
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t)
	ev, err := f.snipes.Evaluate(context.Background(), testToken)
	if err != nil || !ev.Decision.Admitted || ev.PolicyVersion != 1 {
		t.Fatalf("got %+v %v", ev, err)
	}

	f.chain.lockErr = fmt.Errorf("locker: %w", domain.ErrOracleUnavailable)
	ev, err = f.snipes.Evaluate(context.Background(), testToken)
	if err == nil || ev.Decision.Admitted || ev.Decision.Reason != domain.RejectOracleUnavailable || ev.Error == "" {
		t.Fatalf("got %+v %v", ev, err)
	}
}
