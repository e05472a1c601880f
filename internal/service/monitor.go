package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/policy"
)

// Exiter sells a position for a monitor-decided reason.
type Exiter interface {
	Exit(ctx context.Context, positionID string, reason domain.ExitReason) (domain.Position, error)
}

// MonitorDeps are the collaborators of Monitor.
type MonitorDeps struct {
	Policy      *PolicyService
	Book        *PositionBook
	Prices      domain.PriceOracle
	PriceCache  domain.PriceCache
	Exits       Exiter
	Bus         domain.SignalBus
	Telemetry   Telemetry
	Logger      *slog.Logger
	Interval    time.Duration
	Concurrency int
}

// Monitor re-prices every open position on a ticker, raises high-water
// marks and hands triggered positions to the exit executor. A failed price
// read leaves the position untouched until the next tick.
type Monitor struct {
	d     MonitorDeps
	clock func() time.Time
}

// NewMonitor creates a Monitor. Interval defaults to 15s and concurrency
// to 8.
func NewMonitor(d MonitorDeps) *Monitor {
	if d.Interval <= 0 {
		d.Interval = 15 * time.Second
	}
	if d.Concurrency <= 0 {
		d.Concurrency = 8
	}
	if d.Telemetry == nil {
		d.Telemetry = NopTelemetry{}
	}
	d.Logger = d.Logger.With(slog.String("component", "monitor"))
	return &Monitor{d: d, clock: time.Now}
}

// Run ticks until ctx is cancelled. Call in a goroutine.
func (m *Monitor) Run(ctx context.Context) error {
	m.d.Logger.InfoContext(ctx, "monitor: started",
		slog.Duration("interval", m.d.Interval),
		slog.Int("concurrency", m.d.Concurrency),
	)
	ticker := time.NewTicker(m.d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// TickResult summarises one pass.
type TickResult struct {
	Evaluated int
	Exited    int
	Failed    int
}

// Tick evaluates every open position once against a single policy snapshot.
func (m *Monitor) Tick(ctx context.Context) TickResult {
	start := m.clock()
	snap := m.d.Policy.Snapshot()
	open := m.d.Book.OpenPositions()

	results := make([]tickOutcome, len(open))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.d.Concurrency)
	for i, pos := range open {
		g.Go(func() error {
			results[i] = m.evaluate(gctx, pos.ID, pos.TokenID, snap)
			return nil
		})
	}
	_ = g.Wait()

	var res TickResult
	for _, r := range results {
		switch r {
		case outcomeExited:
			res.Evaluated++
			res.Exited++
		case outcomeFailed:
			res.Failed++
		case outcomeHeld:
			res.Evaluated++
		}
	}
	m.d.Telemetry.ObserveMonitorTick(m.clock().Sub(start))
	m.d.Telemetry.SetOpenPositions(m.d.Book.Count())
	if len(open) > 0 {
		m.d.Logger.DebugContext(ctx, "monitor: tick",
			slog.Int("open", len(open)),
			slog.Int("exited", res.Exited),
			slog.Int("failed", res.Failed),
		)
	}
	return res
}

type tickOutcome int

const (
	outcomeSkipped tickOutcome = iota
	outcomeHeld
	outcomeExited
	outcomeFailed
)

func (m *Monitor) evaluate(ctx context.Context, id, token string, snap *policy.Snapshot) tickOutcome {
	price, err := m.d.Prices.Price(ctx, token)
	if err != nil {
		m.d.Logger.WarnContext(ctx, "monitor: price read failed",
			slog.String("position_id", id),
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
		return outcomeFailed
	}
	now := m.clock()
	m.cachePrice(ctx, token, price, now)

	var decision domain.ExitDecision
	raised := false
	pos, err := m.d.Book.Mutate(ctx, id, func(p *domain.Position) error {
		before := p.HighestPrice
		decision = policy.EvaluateExit(p, price, snap.Config, now)
		if p.HighestPrice.Equal(before) {
			return errUnchanged
		}
		raised = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) || errors.Is(err, domain.ErrNotFound) {
			return outcomeSkipped
		}
		m.d.Logger.WarnContext(ctx, "monitor: update failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		return outcomeFailed
	}
	if raised {
		PublishPosition(ctx, m.d.Bus, m.d.Logger, EventPositionUpdated, pos)
	}
	if !decision.ShouldExit() {
		return outcomeHeld
	}

	m.d.Logger.InfoContext(ctx, "monitor: exit triggered",
		slog.String("position_id", id),
		slog.String("reason", string(decision.Reason)),
		slog.String("price", price.String()),
		slog.String("entry", pos.EntryPrice.String()),
		slog.String("highest", pos.HighestPrice.String()),
	)
	if _, err := m.d.Exits.Exit(ctx, id, decision.Reason); err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) || errors.Is(err, domain.ErrLockHeld) ||
			errors.Is(err, domain.ErrSwapPending) {
			return outcomeSkipped
		}
		m.d.Logger.ErrorContext(ctx, "monitor: exit failed, retrying next tick",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		return outcomeFailed
	}
	return outcomeExited
}

func (m *Monitor) cachePrice(ctx context.Context, token string, price decimal.Decimal, at time.Time) {
	if m.d.PriceCache == nil {
		return
	}
	if err := m.d.PriceCache.SetPrice(ctx, token, price, at); err != nil {
		m.d.Logger.DebugContext(ctx, "monitor: cache price failed",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
	}
}
