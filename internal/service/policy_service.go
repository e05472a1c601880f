package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/policy"
)

// PolicyService owns the policy holder and keeps it in step with the
// stores. Every accepted write is saved as a new row in policy_versions so
// the stored history matches the in-memory version numbers.
type PolicyService struct {
	holder    *policy.Holder
	versions  domain.PolicyStore
	blacklist domain.BlacklistStore
	audit     domain.AuditStore
	bus       domain.SignalBus
	telemetry Telemetry
	logger    *slog.Logger
}

// RestorePolicy builds the holder from persisted state. The latest stored
// version wins over fallback; on a fresh database fallback is published as
// version 1. Config blacklist entries are merged into the stored blacklist.
// Sniping starts unpaused.
func RestorePolicy(
	ctx context.Context,
	operator string,
	fallback domain.PolicyConfig,
	seedBlacklist []string,
	versions domain.PolicyStore,
	blacklist domain.BlacklistStore,
	auditStore domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) (*PolicyService, error) {
	logger = logger.With(slog.String("component", "policy"))

	cfg := fallback
	version := int64(1)
	fresh := false
	latest, err := versions.Latest(ctx)
	switch {
	case err == nil:
		cfg, version = latest, latest.Version
	case errors.Is(err, domain.ErrNotFound):
		fresh = true
	default:
		return nil, fmt.Errorf("policy: restore: %w", err)
	}

	for _, t := range seedBlacklist {
		if t = domain.NormalizeToken(t); t == "" {
			continue
		}
		if err := blacklist.Add(ctx, domain.BlacklistEntry{TokenID: t, Reason: "config"}); err != nil {
			return nil, fmt.Errorf("policy: seed blacklist: %w", err)
		}
	}
	entries, err := blacklist.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: restore blacklist: %w", err)
	}
	tokens := make([]string, 0, len(entries))
	for _, e := range entries {
		tokens = append(tokens, e.TokenID)
	}

	holder, err := policy.NewHolder(operator, version, cfg, tokens, false)
	if err != nil {
		return nil, fmt.Errorf("policy: restore: %w", err)
	}
	s := &PolicyService{
		holder:    holder,
		versions:  versions,
		blacklist: blacklist,
		audit:     auditStore,
		bus:       bus,
		telemetry: NopTelemetry{},
		logger:    logger,
	}
	if fresh {
		first := holder.Current().Config
		first.UpdatedBy = operator
		if err := versions.Save(ctx, first); err != nil {
			return nil, fmt.Errorf("policy: save initial version: %w", err)
		}
	}
	logger.InfoContext(ctx, "policy: restored",
		slog.Int64("version", holder.Current().Version),
		slog.Int("blacklist", len(tokens)),
		slog.Bool("fresh", fresh),
	)
	return s, nil
}

// SetTelemetry routes policy gauges to t.
func (s *PolicyService) SetTelemetry(t Telemetry) {
	s.telemetry = t
	cur := s.holder.Current()
	t.ObservePolicy(cur.Version, cur.Paused)
}

// Snapshot returns the current policy snapshot.
func (s *PolicyService) Snapshot() *policy.Snapshot {
	return s.holder.Current()
}

// Operator returns the identity allowed to change policy.
func (s *PolicyService) Operator() string {
	return s.holder.Operator()
}

// Update publishes new thresholds.
func (s *PolicyService) Update(ctx context.Context, caller string, cfg domain.PolicyConfig) (*policy.Snapshot, error) {
	snap, err := s.holder.UpdateConfig(caller, cfg)
	if err != nil {
		return nil, err
	}
	return snap, s.committed(ctx, snap, "config", nil)
}

// SetPaused pauses or resumes new snipes.
func (s *PolicyService) SetPaused(ctx context.Context, caller string, paused bool) (*policy.Snapshot, error) {
	snap, err := s.holder.SetPaused(caller, paused)
	if err != nil {
		return nil, err
	}
	change := "resume"
	if paused {
		change = "pause"
	}
	return snap, s.committed(ctx, snap, change, nil)
}

// AddBlacklist bans a token.
func (s *PolicyService) AddBlacklist(ctx context.Context, caller, tokenID, reason string) (*policy.Snapshot, error) {
	snap, err := s.holder.AddBlacklist(caller, tokenID)
	if err != nil {
		return nil, err
	}
	token := domain.NormalizeToken(tokenID)
	if err := s.blacklist.Add(ctx, domain.BlacklistEntry{TokenID: token, Reason: reason}); err != nil {
		return snap, fmt.Errorf("policy: persist blacklist %s: %w", token, err)
	}
	return snap, s.committed(ctx, snap, "blacklist_add", map[string]any{"token": token, "reason": reason})
}

// RemoveBlacklist lifts a ban. A token missing from the store is not an error.
func (s *PolicyService) RemoveBlacklist(ctx context.Context, caller, tokenID string) (*policy.Snapshot, error) {
	snap, err := s.holder.RemoveBlacklist(caller, tokenID)
	if err != nil {
		return nil, err
	}
	token := domain.NormalizeToken(tokenID)
	if err := s.blacklist.Remove(ctx, token); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return snap, fmt.Errorf("policy: persist blacklist removal %s: %w", token, err)
	}
	return snap, s.committed(ctx, snap, "blacklist_remove", map[string]any{"token": token})
}

// Blacklist lists banned tokens with their reasons.
func (s *PolicyService) Blacklist(ctx context.Context) ([]domain.BlacklistEntry, error) {
	return s.blacklist.List(ctx)
}

// History returns stored policy versions, newest first.
func (s *PolicyService) History(ctx context.Context, limit int) ([]domain.PolicyConfig, error) {
	return s.versions.History(ctx, limit)
}

func (s *PolicyService) committed(ctx context.Context, snap *policy.Snapshot, change string, extra map[string]any) error {
	saveErr := s.versions.Save(ctx, snap.Config)
	if saveErr != nil {
		s.logger.ErrorContext(ctx, "policy: save version failed",
			slog.Int64("version", snap.Version),
			slog.String("error", saveErr.Error()),
		)
	}

	detail := map[string]any{
		"version": snap.Version,
		"change":  change,
		"by":      snap.Config.UpdatedBy,
		"paused":  snap.Paused,
	}
	for k, v := range extra {
		detail[k] = v
	}
	audit(ctx, s.audit, s.logger, "policy."+change, detail)
	s.telemetry.ObservePolicy(snap.Version, snap.Paused)
	publish(ctx, s.bus, s.logger, domain.ChannelPolicy, PolicyEvent{
		Version: snap.Version,
		Paused:  snap.Paused,
		Change:  change,
		By:      snap.Config.UpdatedBy,
	})
	s.logger.InfoContext(ctx, "policy: updated",
		slog.Int64("version", snap.Version),
		slog.String("change", change),
		slog.String("by", snap.Config.UpdatedBy),
	)
	if saveErr != nil {
		return fmt.Errorf("policy: save version %d: %w", snap.Version, saveErr)
	}
	return nil
}
