package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/policy"
	"github.com/alanyoungcy/dexsniper/internal/store/memory"
)

func TestRestorePolicy_FreshDatabaseSavesFallback(t *testing.T) {
	f := newFixture(t)
	latest, err := f.versions.Latest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 1 || latest.UpdatedBy != testOperator {
		t.Fatalf("latest = %+v", latest)
	}
	if snap := f.policy.Snapshot(); snap.Version != 1 || snap.Paused {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRestorePolicy_PrefersStoredVersion(t *testing.T) {
	ctx := context.Background()
	versions := memory.NewPolicyStore()
	blacklist := memory.NewBlacklistStore()
	stored := policy.Default()
	stored.Version = 7
	stored.StopLossPct = dec(30)
	if err := versions.Save(ctx, stored); err != nil {
		t.Fatal(err)
	}
	_ = blacklist.Add(ctx, domain.BlacklistEntry{TokenID: "0xold", Reason: "rug"})

	svc, err := RestorePolicy(ctx, testOperator, policy.Default(), []string{"0xSEED", ""}, versions, blacklist, nil, nil, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	snap := svc.Snapshot()
	if snap.Version != 7 || !snap.Config.StopLossPct.Equal(dec(30)) {
		t.Fatalf("snapshot = %+v", snap.Config)
	}
	if !snap.Contains("0xold") || !snap.Contains("0xseed") {
		t.Fatalf("blacklist = %v", snap.Blacklist())
	}
	if hist, _ := versions.History(ctx, 10); len(hist) != 1 {
		t.Fatalf("restore must not write a version, history = %d", len(hist))
	}
}

func TestPolicyService_WritesPersistEveryVersion(t *testing.T) {
	f := newFixture(t)
	f.policy.SetTelemetry(f.telemetry)
	ctx := context.Background()

	cfg := policy.Default()
	cfg.TakeProfitPct = dec(500)
	if _, err := f.policy.Update(ctx, testOperator, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := f.policy.SetPaused(ctx, testOperator, true); err != nil {
		t.Fatal(err)
	}
	if _, err := f.policy.AddBlacklist(ctx, testOperator, "0xBAD", "honeypot"); err != nil {
		t.Fatal(err)
	}
	snap, err := f.policy.RemoveBlacklist(ctx, testOperator, "0xbad")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 5 || !snap.Paused || snap.Contains("0xbad") {
		t.Fatalf("snapshot = %+v", snap)
	}

	hist, _ := f.policy.History(ctx, 0)
	if len(hist) != 5 || hist[0].Version != 5 {
		t.Fatalf("history = %d, newest = %d", len(hist), hist[0].Version)
	}
	if !hist[0].TakeProfitPct.Equal(dec(500)) {
		t.Fatalf("config lost across pause and blacklist writes: %+v", hist[0])
	}
	if entries, _ := f.policy.Blacklist(ctx); len(entries) != 0 {
		t.Fatalf("blacklist = %+v", entries)
	}

	want := []string{"policy.config", "policy.pause", "policy.blacklist_add", "policy.blacklist_remove"}
	events := f.audit.Events()
	if len(events) != len(want) {
		t.Fatalf("audit = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("audit = %v", events)
		}
	}
	if got := f.telemetry.policies; len(got) != 5 || got[4] != 5 {
		t.Fatalf("telemetry = %v", got)
	}
}

func TestPolicyService_RejectsNonOperator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.policy.SetPaused(ctx, "0xmallory", true); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("got %v", err)
	}
	bad := policy.Default()
	bad.StopLossPct = dec(100)
	if _, err := f.policy.Update(ctx, testOperator, bad); !errors.Is(err, domain.ErrInvalidPolicy) {
		t.Fatalf("got %v", err)
	}
	if hist, _ := f.policy.History(ctx, 0); len(hist) != 1 {
		t.Fatalf("refused writes stored a version: %d", len(hist))
	}
}
