package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitProfitTarget  ExitReason = "profit_target"
	ExitStopLoss      ExitReason = "stop_loss"
	ExitTimeLimit     ExitReason = "time_limit"
	ExitManual        ExitReason = "manual"
	ExitEmergencyExit ExitReason = "emergency_exit"
)

// Valid reports whether r is one of the known exit reasons.
func (r ExitReason) Valid() bool {
	switch r {
	case ExitProfitTarget, ExitStopLoss, ExitTimeLimit, ExitManual, ExitEmergencyExit:
		return true
	}
	return false
}

// Position is one buy of one token on behalf of one account. Prices are
// quoted in wrapped-native base units per 1e18 token base units; amounts are
// base units.
type Position struct {
	ID            string          `json:"id"`
	Account       string          `json:"account"`
	Network       string          `json:"network"`
	TokenID       string          `json:"token_id"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	HighestPrice  decimal.Decimal `json:"highest_price"`
	AmountHeld    decimal.Decimal `json:"amount_held"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	OpenedAt      time.Time       `json:"opened_at"`
	Status        PositionStatus  `json:"status"`
	ExitReason    ExitReason      `json:"exit_reason,omitempty"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	ExitProceeds  decimal.Decimal `json:"exit_proceeds"`
	ExitFee       decimal.Decimal `json:"exit_fee"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	PolicyVersion int64           `json:"policy_version"`
}

// IsOpen reports whether the position can still be exited.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// ExitAction is the outcome of a monitor evaluation.
type ExitAction string

const (
	ActionHold ExitAction = "hold"
	ActionExit ExitAction = "exit"
)

// ExitDecision is returned by the position monitor.
type ExitDecision struct {
	Action ExitAction `json:"action"`
	Reason ExitReason `json:"reason,omitempty"`
}

// Hold is the no-op decision.
var Hold = ExitDecision{Action: ActionHold}

// ExitFor builds an exit decision for reason.
func ExitFor(reason ExitReason) ExitDecision {
	return ExitDecision{Action: ActionExit, Reason: reason}
}

// ShouldExit reports whether the decision requires selling.
func (d ExitDecision) ShouldExit() bool {
	return d.Action == ActionExit
}

func (d ExitDecision) String() string {
	if d.Action == ActionExit {
		return string(d.Reason)
	}
	return string(ActionHold)
}

// ExitResult is the settlement of a closed position.
type ExitResult struct {
	MinAcceptable decimal.Decimal `json:"min_acceptable"`
	Gross         decimal.Decimal `json:"gross"`
	Fee           decimal.Decimal `json:"fee"`
	NetProceeds   decimal.Decimal `json:"net_proceeds"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
}
