// Package executor sells positions. It is the only writer that closes
// positions, whether the trigger came from the monitor, the owner or the
// operator.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/policy"
	"github.com/alanyoungcy/dexsniper/internal/service"
)

// Deps are the collaborators of ExitExecutor.
type Deps struct {
	Policy    *service.PolicyService
	Book      *service.PositionBook
	Swaps     domain.SwapExecutor
	Ledger    *service.Ledger
	Locks     domain.LockManager
	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Telemetry service.Telemetry
	Alerts    service.Alerts
	Logger    *slog.Logger
	// LockTTL bounds how long one exit may hold its position lock.
	LockTTL time.Duration
	// PendingHold is how long a position whose sale has an unknown outcome
	// is kept away from further exits.
	PendingHold time.Duration
}

// ExitExecutor quotes, swaps and settles exits. Each exit holds the lock
// "exit:{position}" so two processes never sell the same position. A sale
// whose outcome is unknown parks the position under "pending:{position}"
// until an operator reconciles it or PendingHold runs out.
type ExitExecutor struct {
	d     Deps
	clock func() time.Time
}

// ExitRecord is appended to the exits stream for every settled position.
type ExitRecord struct {
	Position domain.Position   `json:"position"`
	Result   domain.ExitResult `json:"result"`
	Quoted   decimal.Decimal   `json:"quoted"`
	Forced   bool              `json:"forced"`
}

// New creates an ExitExecutor. Without a LockManager it falls back to
// process-local locks.
func New(d Deps) *ExitExecutor {
	if d.Locks == nil {
		d.Locks = NewLocalLocks()
	}
	if d.Telemetry == nil {
		d.Telemetry = service.NopTelemetry{}
	}
	if d.Alerts == nil {
		d.Alerts = service.NopAlerts{}
	}
	if d.LockTTL <= 0 {
		d.LockTTL = 10 * time.Minute
	}
	if d.PendingHold <= 0 {
		d.PendingHold = time.Hour
	}
	d.Logger = d.Logger.With(slog.String("component", "exit_executor"))
	return &ExitExecutor{d: d, clock: time.Now}
}

// Exit sells a position for a monitor trigger.
func (x *ExitExecutor) Exit(ctx context.Context, positionID string, reason domain.ExitReason) (domain.Position, error) {
	return x.exit(ctx, positionID, reason, false)
}

// ManualExit sells a position at its owner's request.
func (x *ExitExecutor) ManualExit(ctx context.Context, account, positionID string) (domain.Position, error) {
	pos, err := x.d.Book.Lookup(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("executor: manual exit: %w", err)
	}
	if pos.Account != account {
		return domain.Position{}, fmt.Errorf("executor: manual exit %s by %q: %w", positionID, account, domain.ErrUnauthorized)
	}
	return x.exit(ctx, positionID, domain.ExitManual, false)
}

// EmergencyExit lets the operator liquidate any position. With force set
// the swap accepts any output and settlement uses whatever it returned.
func (x *ExitExecutor) EmergencyExit(ctx context.Context, caller, positionID string, force bool) (domain.Position, error) {
	if caller != x.d.Policy.Operator() {
		return domain.Position{}, fmt.Errorf("executor: emergency exit by %q: %w", caller, domain.ErrUnauthorized)
	}
	return x.exit(ctx, positionID, domain.ExitEmergencyExit, force)
}

func (x *ExitExecutor) exit(ctx context.Context, id string, reason domain.ExitReason, force bool) (domain.Position, error) {
	unlock, err := x.d.Locks.Acquire(ctx, "exit:"+id, x.d.LockTTL)
	if err != nil {
		return domain.Position{}, fmt.Errorf("executor: exit %s: %w", id, err)
	}
	defer unlock()

	if x.pending(ctx, id) {
		return domain.Position{}, fmt.Errorf("executor: exit %s: previous sale unresolved: %w", id, domain.ErrSwapPending)
	}

	pos, err := x.d.Book.Lookup(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("executor: exit %s: %w", id, err)
	}
	if !pos.IsOpen() {
		return pos, fmt.Errorf("executor: exit %s: %w", id, domain.ErrAlreadyClosed)
	}

	pos, rec, err := x.sell(ctx, pos, reason, force)
	if err != nil {
		x.d.Telemetry.ObserveExitError()
		x.d.Logger.ErrorContext(ctx, "executor: exit failed",
			slog.String("position_id", id),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		_ = x.d.Alerts.Error(ctx, "exit "+id, err)
		return domain.Position{}, err
	}
	x.settled(ctx, pos, rec)
	return pos, nil
}

func (x *ExitExecutor) sell(ctx context.Context, pos domain.Position, reason domain.ExitReason, force bool) (domain.Position, ExitRecord, error) {
	cfg := x.d.Policy.Snapshot().Config
	native := x.d.Swaps.NativeToken()

	quoted, err := x.d.Swaps.Quote(ctx, pos.TokenID, native, pos.AmountHeld)
	if err != nil && !force {
		return pos, ExitRecord{}, fmt.Errorf("executor: exit %s: quote: %w", pos.ID, err)
	}
	minOut := policy.MinAcceptable(quoted, cfg)
	if force {
		minOut = decimal.Zero
	}

	now := x.clock()
	filled, err := x.d.Swaps.Swap(ctx, domain.SwapRequest{
		TokenIn:      pos.TokenID,
		TokenOut:     native,
		AmountIn:     pos.AmountHeld,
		MinAmountOut: minOut,
		Deadline:     now.Add(cfg.SwapDeadline),
	})
	if err != nil {
		if errors.Is(err, domain.ErrSwapPending) {
			x.markPending(ctx, pos, err)
		}
		return pos, ExitRecord{}, fmt.Errorf("executor: exit %s: %w", pos.ID, err)
	}

	// The router enforced minOut on-chain, so a reported fill is final even
	// when it lands under the slippage bound computed from the quote.
	settleQuote := quoted
	if force || filled.LessThan(minOut) {
		if !force {
			x.d.Logger.WarnContext(ctx, "executor: fill below min acceptable, settling on fill",
				slog.String("position_id", pos.ID),
				slog.String("quoted", quoted.String()),
				slog.String("min_out", minOut.String()),
				slog.String("filled", filled.String()),
			)
		}
		settleQuote = filled
	}
	rec := ExitRecord{Quoted: quoted, Forced: force}
	closed, err := x.d.Book.Mutate(ctx, pos.ID, func(p *domain.Position) error {
		res, err := policy.ExecuteExitFilled(p, reason, settleQuote, filled, cfg, x.clock())
		rec.Result = res
		return err
	})
	if err != nil {
		// The tokens are gone while the position still reads open.
		err = fmt.Errorf("executor: settle %s after swap returned %s: %w", pos.ID, filled, err)
		x.markPending(ctx, pos, err)
		return pos, ExitRecord{}, err
	}
	rec.Position = closed

	if _, err := x.d.Ledger.Credit(ctx, closed.Account, rec.Result.NetProceeds); err != nil {
		x.d.Logger.ErrorContext(ctx, "executor: credit proceeds failed",
			slog.String("position_id", closed.ID),
			slog.String("account", closed.Account),
			slog.String("amount", rec.Result.NetProceeds.String()),
			slog.String("error", err.Error()),
		)
		_ = x.d.Alerts.Error(ctx, "credit "+closed.ID, err)
	}
	return closed, rec, nil
}

// pending reports whether id is parked after a sale with an unknown outcome.
func (x *ExitExecutor) pending(ctx context.Context, id string) bool {
	release, err := x.d.Locks.Acquire(ctx, "pending:"+id, time.Millisecond)
	if err != nil {
		return errors.Is(err, domain.ErrLockHeld)
	}
	release()
	return false
}

// markPending parks pos so neither the monitor nor a caller sells it again.
// The hold is never released here; it expires after PendingHold.
func (x *ExitExecutor) markPending(ctx context.Context, pos domain.Position, cause error) {
	if _, err := x.d.Locks.Acquire(ctx, "pending:"+pos.ID, x.d.PendingHold); err != nil {
		x.d.Logger.ErrorContext(ctx, "executor: could not park position",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	x.d.Logger.ErrorContext(ctx, "executor: sale outcome unknown, position parked",
		slog.String("position_id", pos.ID),
		slog.String("account", pos.Account),
		slog.String("amount", pos.AmountHeld.String()),
		slog.Duration("hold", x.d.PendingHold),
		slog.String("error", cause.Error()),
	)
	_ = x.d.Alerts.Error(ctx, "exit pending "+pos.ID, cause)
	service.Audit(ctx, x.d.Audit, x.d.Logger, "position.exit_pending", map[string]any{
		"position_id": pos.ID,
		"account":     pos.Account,
		"token":       pos.TokenID,
		"amount":      pos.AmountHeld.String(),
		"error":       cause.Error(),
	})
}

func (x *ExitExecutor) settled(ctx context.Context, pos domain.Position, rec ExitRecord) {
	service.PublishPosition(ctx, x.d.Bus, x.d.Logger, service.EventPositionClosed, pos)
	if x.d.Bus != nil {
		if payload, err := json.Marshal(rec); err == nil {
			if err := x.d.Bus.StreamAppend(ctx, domain.StreamExits, payload); err != nil {
				x.d.Logger.WarnContext(ctx, "executor: stream append failed", slog.String("error", err.Error()))
			}
		}
	}
	service.Audit(ctx, x.d.Audit, x.d.Logger, "position.closed", map[string]any{
		"position_id":  pos.ID,
		"account":      pos.Account,
		"token":        pos.TokenID,
		"reason":       string(pos.ExitReason),
		"quoted":       rec.Quoted.String(),
		"gross":        rec.Result.Gross.String(),
		"fee":          rec.Result.Fee.String(),
		"net":          rec.Result.NetProceeds.String(),
		"realized_pnl": rec.Result.RealizedPnL.String(),
		"forced":       rec.Forced,
	})
	x.d.Telemetry.ObserveClose(pos)
	x.d.Telemetry.SetOpenPositions(x.d.Book.Count())
	if err := x.d.Alerts.PositionClosed(ctx, pos); err != nil {
		x.d.Logger.WarnContext(ctx, "executor: notify failed", slog.String("error", err.Error()))
	}
	x.d.Logger.InfoContext(ctx, "executor: position closed",
		slog.String("position_id", pos.ID),
		slog.String("reason", string(pos.ExitReason)),
		slog.String("net", rec.Result.NetProceeds.String()),
		slog.String("fee", rec.Result.Fee.String()),
		slog.String("realized_pnl", rec.Result.RealizedPnL.String()),
	)
}

var _ service.Exiter = (*ExitExecutor)(nil)
