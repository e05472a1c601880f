package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// Position lifecycle events published on domain.ChannelPositions.
const (
	EventPositionOpened  = "position_opened"
	EventPositionUpdated = "position_updated"
	EventPositionClosed  = "position_closed"
)

// PositionEvent is the payload of a position lifecycle message.
type PositionEvent struct {
	Event    string          `json:"event"`
	Position domain.Position `json:"position"`
	At       time.Time       `json:"at"`
}

// CandidateEvent is published on domain.ChannelCandidates for every
// evaluated token.
type CandidateEvent struct {
	Snapshot domain.TokenSnapshot     `json:"snapshot"`
	Decision domain.AdmissionDecision `json:"decision"`
	Sniped   bool                     `json:"sniped"`
	Position string                   `json:"position_id,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// PolicyEvent is published on domain.ChannelPolicy after every accepted write.
type PolicyEvent struct {
	Version int64  `json:"version"`
	Paused  bool   `json:"paused"`
	Change  string `json:"change"`
	By      string `json:"by"`
}

// publish marshals v onto channel. Bus failures are logged, never returned:
// the state change they describe has already been committed.
func publish(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, channel string, v any) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		logger.WarnContext(ctx, "marshal event failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	if err := bus.Publish(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "publish event failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

// audit appends to the audit log, logging instead of failing.
func audit(ctx context.Context, store domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	if store == nil {
		return
	}
	if err := store.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// PublishPosition announces a lifecycle change of pos.
func PublishPosition(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, event string, pos domain.Position) {
	publish(ctx, bus, logger, domain.ChannelPositions, PositionEvent{Event: event, Position: pos, At: time.Now().UTC()})
}

// Audit is the exported form of audit for other packages.
func Audit(ctx context.Context, store domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	audit(ctx, store, logger, event, detail)
}
