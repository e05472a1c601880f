package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/policy"
)

// SnipeRequest asks to buy TokenID with Amount of native for Account.
type SnipeRequest struct {
	Account string          `json:"account"`
	TokenID string          `json:"token_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// Evaluation is the result of running the admission filter on a token.
type Evaluation struct {
	Snapshot      domain.TokenSnapshot     `json:"snapshot"`
	Decision      domain.AdmissionDecision `json:"decision"`
	PolicyVersion int64                    `json:"policy_version"`
	Error         string                   `json:"error,omitempty"`
}

// SnipeDeps are the collaborators of SnipeService.
type SnipeDeps struct {
	Network   string
	Policy    *PolicyService
	Snapshots *SnapshotBuilder
	Swaps     domain.SwapExecutor
	Book      *PositionBook
	Ledger    *Ledger
	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Telemetry Telemetry
	Alerts    Alerts
	Logger    *slog.Logger
}

// SnipeService admits and buys tokens.
type SnipeService struct {
	d     SnipeDeps
	clock func() time.Time
}

// NewSnipeService creates a SnipeService. Nil Telemetry and Alerts are
// replaced with no-ops.
func NewSnipeService(d SnipeDeps) *SnipeService {
	if d.Telemetry == nil {
		d.Telemetry = NopTelemetry{}
	}
	if d.Alerts == nil {
		d.Alerts = NopAlerts{}
	}
	d.Logger = d.Logger.With(slog.String("component", "snipe"))
	return &SnipeService{d: d, clock: time.Now}
}

// Evaluate builds a snapshot of tokenID and runs the admission filter
// against the current policy. Snapshot failures become rejections; the
// underlying error is returned alongside for logging.
func (s *SnipeService) Evaluate(ctx context.Context, tokenID string) (Evaluation, error) {
	snap := s.d.Policy.Snapshot()
	ev := Evaluation{PolicyVersion: snap.Version}

	ts, err := s.d.Snapshots.Build(ctx, tokenID, snap.Config.MinNativeLiquidity)
	ev.Snapshot = ts
	if err != nil {
		ev.Decision = policy.RejectionFor(err)
		ev.Error = err.Error()
	} else {
		ev.Decision = policy.EvaluateCandidate(ts, snap.Config, snap, s.clock())
	}
	s.d.Telemetry.ObserveAdmission(ev.Decision)
	return ev, err
}

// Snipe buys a token for an account. Steps, any of which can refuse:
// pause check, funds check, snapshot and admission, quote, debit, swap.
// The debit happens before the swap so concurrent snipes cannot overspend;
// a failed swap refunds it. The position opens at the snapshot price.
func (s *SnipeService) Snipe(ctx context.Context, req SnipeRequest) (domain.Position, error) {
	pos, err := s.snipe(ctx, req)
	if err != nil {
		s.d.Telemetry.ObserveSnipe(snipeOutcome(err))
		s.d.Logger.WarnContext(ctx, "snipe: refused",
			slog.String("account", req.Account),
			slog.String("token", req.TokenID),
			slog.String("error", err.Error()),
		)
		return domain.Position{}, err
	}
	s.d.Telemetry.ObserveSnipe("opened")
	s.d.Telemetry.SetOpenPositions(s.d.Book.Count())
	return pos, nil
}

func (s *SnipeService) snipe(ctx context.Context, req SnipeRequest) (domain.Position, error) {
	snap := s.d.Policy.Snapshot()
	cfg := snap.Config
	if snap.Paused {
		return domain.Position{}, fmt.Errorf("snipe: %w", domain.ErrPaused)
	}
	if !req.Amount.IsPositive() {
		return domain.Position{}, fmt.Errorf("snipe: amount %s: %w", req.Amount, domain.ErrInvalidAmount)
	}
	acct, err := s.d.Ledger.Balance(ctx, req.Account)
	if err != nil {
		return domain.Position{}, fmt.Errorf("snipe: %w", err)
	}
	if acct.Balance.LessThan(req.Amount) {
		return domain.Position{}, fmt.Errorf("snipe: balance %s below %s: %w", acct.Balance, req.Amount, domain.ErrInsufficientFunds)
	}

	token := domain.NormalizeToken(req.TokenID)
	ts, err := s.d.Snapshots.Build(ctx, token, cfg.MinNativeLiquidity)
	if err != nil {
		d := policy.RejectionFor(err)
		s.d.Telemetry.ObserveAdmission(d)
		return domain.Position{}, fmt.Errorf("snipe %s: %w: %w", token, d.Err(), err)
	}
	decision := policy.EvaluateCandidate(ts, cfg, snap, s.clock())
	s.d.Telemetry.ObserveAdmission(decision)
	if err := decision.Err(); err != nil {
		return domain.Position{}, fmt.Errorf("snipe %s: %w", token, err)
	}

	native := s.d.Swaps.NativeToken()
	quoted, err := s.d.Swaps.Quote(ctx, native, token, req.Amount)
	if err != nil {
		return domain.Position{}, fmt.Errorf("snipe %s: quote: %w", token, err)
	}
	minOut := policy.MinAcceptable(quoted, cfg)

	if _, err := s.d.Ledger.Debit(ctx, req.Account, req.Amount); err != nil {
		return domain.Position{}, fmt.Errorf("snipe %s: %w", token, err)
	}
	now := s.clock()
	received, err := s.d.Swaps.Swap(ctx, domain.SwapRequest{
		TokenIn:      native,
		TokenOut:     token,
		AmountIn:     req.Amount,
		MinAmountOut: minOut,
		Deadline:     now.Add(cfg.SwapDeadline),
	})
	if errors.Is(err, domain.ErrSwapPending) {
		// The buy may still land: keep the debit and leave it to the operator.
		s.d.Logger.ErrorContext(ctx, "snipe: buy outcome unknown, not refunding",
			slog.String("account", req.Account),
			slog.String("token", token),
			slog.String("amount", req.Amount.String()),
			slog.String("error", err.Error()),
		)
		_ = s.d.Alerts.Error(ctx, "snipe pending", fmt.Errorf("buy of %s for %s: %w", token, req.Account, err))
		audit(ctx, s.d.Audit, s.d.Logger, "snipe.pending", map[string]any{
			"account": req.Account,
			"token":   token,
			"amount":  req.Amount.String(),
		})
		return domain.Position{}, fmt.Errorf("snipe %s: %w", token, err)
	}
	if err != nil {
		s.refund(ctx, req)
		return domain.Position{}, fmt.Errorf("snipe %s: %w", token, err)
	}

	pos := domain.Position{
		ID:            uuid.NewString(),
		Account:       req.Account,
		Network:       s.d.Network,
		TokenID:       token,
		EntryPrice:    ts.CurrentPrice,
		HighestPrice:  ts.CurrentPrice,
		AmountHeld:    received,
		CostBasis:     req.Amount,
		OpenedAt:      s.clock().UTC(),
		Status:        domain.PositionStatusOpen,
		PolicyVersion: snap.Version,
	}
	if err := s.d.Book.Open(ctx, pos); err != nil {
		// Tokens are in the wallet but untracked and need manual reconciliation.
		s.d.Logger.ErrorContext(ctx, "snipe: bought but failed to record position",
			slog.String("position_id", pos.ID),
			slog.String("token", token),
			slog.String("received", received.String()),
			slog.String("error", err.Error()),
		)
		_ = s.d.Alerts.Error(ctx, "snipe", fmt.Errorf("record position %s for %s: %w", pos.ID, token, err))
		return domain.Position{}, fmt.Errorf("snipe %s: %w", token, err)
	}

	PublishPosition(ctx, s.d.Bus, s.d.Logger, EventPositionOpened, pos)
	audit(ctx, s.d.Audit, s.d.Logger, "position.opened", map[string]any{
		"position_id":    pos.ID,
		"account":        pos.Account,
		"token":          pos.TokenID,
		"cost_basis":     pos.CostBasis.String(),
		"amount_held":    pos.AmountHeld.String(),
		"entry_price":    pos.EntryPrice.String(),
		"policy_version": pos.PolicyVersion,
	})
	if err := s.d.Alerts.PositionOpened(ctx, pos); err != nil {
		s.d.Logger.WarnContext(ctx, "snipe: notify failed", slog.String("error", err.Error()))
	}
	s.d.Logger.InfoContext(ctx, "snipe: position opened",
		slog.String("position_id", pos.ID),
		slog.String("account", pos.Account),
		slog.String("token", pos.TokenID),
		slog.String("cost_basis", pos.CostBasis.String()),
		slog.String("amount_held", pos.AmountHeld.String()),
		slog.String("entry_price", pos.EntryPrice.String()),
	)
	return pos, nil
}

func (s *SnipeService) refund(ctx context.Context, req SnipeRequest) {
	if _, err := s.d.Ledger.Credit(ctx, req.Account, req.Amount); err != nil {
		s.d.Logger.ErrorContext(ctx, "snipe: refund failed",
			slog.String("account", req.Account),
			slog.String("amount", req.Amount.String()),
			slog.String("error", err.Error()),
		)
		_ = s.d.Alerts.Error(ctx, "snipe refund", err)
	}
}

func snipeOutcome(err error) string {
	var admErr *domain.AdmissionError
	switch {
	case errors.As(err, &admErr):
		return "rejected"
	case errors.Is(err, domain.ErrPaused):
		return "paused"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrSwapPending):
		return "swap_pending"
	case errors.Is(err, domain.ErrSwapFailed):
		return "swap_failed"
	default:
		return "error"
	}
}
