package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

const recentCandidates = 100

// Candidate is a discovered pair together with its admission result.
type Candidate struct {
	Pair       domain.NewPair `json:"pair"`
	Evaluation Evaluation     `json:"evaluation"`
	Sniped     bool           `json:"sniped"`
	PositionID string         `json:"position_id,omitempty"`
	SnipeError string         `json:"snipe_error,omitempty"`
}

// DiscoveryDeps are the collaborators of Discovery.
type DiscoveryDeps struct {
	Scanner   domain.PairScanner
	Snipes    *SnipeService
	Bus       domain.SignalBus
	Telemetry Telemetry
	Logger    *slog.Logger

	Interval  time.Duration
	ScanCount int
	DedupTTL  time.Duration
	// AutoSnipe buys every admitted candidate for Account with Amount.
	AutoSnipe bool
	Account   string
	Amount    decimal.Decimal
}

// Discovery polls the factory for new pairs, evaluates each unseen token
// and optionally snipes the admitted ones.
type Discovery struct {
	d     DiscoveryDeps
	dedup *Dedup

	mu     sync.RWMutex
	recent []Candidate
}

// NewDiscovery creates a Discovery. Interval defaults to 30s, ScanCount to
// 20 and DedupTTL to 30m.
func NewDiscovery(d DiscoveryDeps) *Discovery {
	if d.Interval <= 0 {
		d.Interval = 30 * time.Second
	}
	if d.ScanCount <= 0 {
		d.ScanCount = 20
	}
	if d.DedupTTL <= 0 {
		d.DedupTTL = 30 * time.Minute
	}
	if d.Telemetry == nil {
		d.Telemetry = NopTelemetry{}
	}
	d.Logger = d.Logger.With(slog.String("component", "discovery"))
	return &Discovery{d: d, dedup: NewDedup(d.DedupTTL)}
}

// Run scans immediately and then on every tick until ctx is cancelled.
func (s *Discovery) Run(ctx context.Context) error {
	s.d.Logger.InfoContext(ctx, "discovery: started",
		slog.Duration("interval", s.d.Interval),
		slog.Int("scan_count", s.d.ScanCount),
		slog.Bool("auto_snipe", s.d.AutoSnipe),
	)
	ticker := time.NewTicker(s.d.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
			s.d.Logger.WarnContext(ctx, "discovery: scan failed", slog.String("error", err.Error()))
		}
		s.dedup.Cleanup()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Scan runs one pass and returns the candidates evaluated in it.
func (s *Discovery) Scan(ctx context.Context) ([]Candidate, error) {
	pairs, err := s.d.Scanner.LatestPairs(ctx, s.d.ScanCount)
	if err != nil {
		return nil, err
	}
	s.d.Telemetry.ObservePairs(len(pairs))

	var out []Candidate
	for _, pair := range pairs {
		token := domain.NormalizeToken(pair.TokenID)
		if s.dedup.Seen(token) {
			continue
		}
		c := s.consider(ctx, pair)
		out = append(out, c)
		s.remember(c)
		publish(ctx, s.d.Bus, s.d.Logger, domain.ChannelCandidates, CandidateEvent{
			Snapshot: c.Evaluation.Snapshot,
			Decision: c.Evaluation.Decision,
			Sniped:   c.Sniped,
			Position: c.PositionID,
			Error:    c.SnipeError,
		})
	}
	return out, nil
}

func (s *Discovery) consider(ctx context.Context, pair domain.NewPair) Candidate {
	c := Candidate{Pair: pair}
	ev, err := s.d.Snipes.Evaluate(ctx, pair.TokenID)
	c.Evaluation = ev
	if err != nil {
		// An unreachable oracle is not a verdict on the token; look again
		// on the next scan.
		s.dedup.Forget(domain.NormalizeToken(pair.TokenID))
	}
	s.d.Logger.InfoContext(ctx, "discovery: candidate evaluated",
		slog.String("token", pair.TokenID),
		slog.Bool("admitted", ev.Decision.Admitted),
		slog.String("reason", string(ev.Decision.Reason)),
	)
	if !ev.Decision.Admitted || !s.d.AutoSnipe {
		return c
	}

	pos, err := s.d.Snipes.Snipe(ctx, SnipeRequest{
		Account: s.d.Account,
		TokenID: pair.TokenID,
		Amount:  s.d.Amount,
	})
	if err != nil {
		c.SnipeError = err.Error()
		return c
	}
	c.Sniped = true
	c.PositionID = pos.ID
	return c
}

func (s *Discovery) remember(c Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, c)
	if over := len(s.recent) - recentCandidates; over > 0 {
		s.recent = append([]Candidate(nil), s.recent[over:]...)
	}
}

// Latest returns up to limit recent candidates, newest first.
func (s *Discovery) Latest(limit int) []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]Candidate, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recent[i])
	}
	return out
}
