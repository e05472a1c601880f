package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

type staticScanner struct {
	pairs []domain.NewPair
	err   error
}

func (s staticScanner) LatestPairs(_ context.Context, count int) ([]domain.NewPair, error) {
	if s.err != nil {
		return nil, s.err
	}
	if count < len(s.pairs) {
		return s.pairs[:count], nil
	}
	return s.pairs, nil
}

func newDiscovery(f *fixture, scanner domain.PairScanner, auto bool) *Discovery {
	return NewDiscovery(DiscoveryDeps{
		Scanner:   scanner,
		Snipes:    f.snipes,
		Bus:       f.bus,
		Logger:    discardLogger(),
		AutoSnipe: auto,
		Account:   "alice",
		Amount:    dec(100),
	})
}

func TestDiscovery_DedupsTokens(t *testing.T) {
	f := newFixture(t)
	scanner := staticScanner{pairs: []domain.NewPair{
		{PairAddress: "0xp1", TokenID: "0xA"},
		{PairAddress: "0xp2", TokenID: "0xa"},
		{PairAddress: "0xp3", TokenID: "0xb"},
	}}
	d := newDiscovery(f, scanner, false)

	first, err := d.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("first scan = %d candidates", len(first))
	}
	for _, c := range first {
		if !c.Evaluation.Decision.Admitted || c.Sniped {
			t.Fatalf("candidate = %+v", c)
		}
	}
	again, _ := d.Scan(context.Background())
	if len(again) != 0 {
		t.Fatalf("second scan = %d candidates", len(again))
	}
	if latest := d.Latest(1); len(latest) != 1 || latest[0].Pair.TokenID != "0xb" {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestDiscovery_RetriesAfterOracleFailure(t *testing.T) {
	f := newFixture(t)
	f.chain.pairErr = fmt.Errorf("rpc: %w", domain.ErrOracleUnavailable)
	d := newDiscovery(f, staticScanner{pairs: []domain.NewPair{{TokenID: "0xa"}}}, false)

	got, _ := d.Scan(context.Background())
	if len(got) != 1 || got[0].Evaluation.Decision.Reason != domain.RejectOracleUnavailable {
		t.Fatalf("got %+v", got)
	}
	f.chain.pairErr = nil
	got, _ = d.Scan(context.Background())
	if len(got) != 1 || !got[0].Evaluation.Decision.Admitted {
		t.Fatalf("retry got %+v", got)
	}
}

func TestDiscovery_AutoSnipe(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", 150)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	candidates, _ := f.bus.Subscribe(ctx, domain.ChannelCandidates)

	d := newDiscovery(f, staticScanner{pairs: []domain.NewPair{{TokenID: "0xa"}, {TokenID: "0xb"}}}, true)
	got, err := d.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got[0].Sniped || got[0].PositionID == "" {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].Sniped || got[1].SnipeError == "" {
		t.Fatalf("second should fail on funds: %+v", got[1])
	}
	if f.book.Count() != 1 {
		t.Fatalf("open = %d", f.book.Count())
	}
	select {
	case <-candidates:
	case <-time.After(time.Second):
		t.Fatal("no candidate event")
	}
}

func TestDiscovery_ScannerError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("factory unreachable")
	if _, err := newDiscovery(f, staticScanner{err: boom}, false).Scan(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}
