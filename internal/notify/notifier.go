// Package notify fans position and error alerts out to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// Event names accepted in notify.events.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
	EventError          = "error"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender, dropping events not listed in the
// allowed set. An empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify delivers title and message when event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notifier: event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// PositionOpened announces a completed snipe.
func (n *Notifier) PositionOpened(ctx context.Context, pos domain.Position) error {
	msg := fmt.Sprintf("token %s\naccount %s\nspent %s wei\nreceived %s\nentry price %s",
		pos.TokenID, pos.Account, pos.CostBasis, pos.AmountHeld, pos.EntryPrice)
	return n.Notify(ctx, EventPositionOpened, "Position opened on "+pos.Network, msg)
}

// PositionClosed announces an exit with its realized result.
func (n *Notifier) PositionClosed(ctx context.Context, pos domain.Position) error {
	msg := fmt.Sprintf("token %s\nreason %s\nproceeds %s wei (fee %s)\nrealized pnl %s wei",
		pos.TokenID, pos.ExitReason, pos.ExitProceeds, pos.ExitFee, pos.RealizedPnL)
	return n.Notify(ctx, EventPositionClosed, "Position closed: "+string(pos.ExitReason), msg)
}

// Error reports an operational failure.
func (n *Notifier) Error(ctx context.Context, where string, err error) error {
	return n.Notify(ctx, EventError, "Error in "+where, err.Error())
}

// dispatch tries every sender; failures are joined, never short-circuited.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
