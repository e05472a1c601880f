package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a funded user of the bot. Balances are in wrapped-native base units.
type Account struct {
	ID             string          `json:"id"`
	Balance        decimal.Decimal `json:"balance"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ProfitLoss summarises an account's trading result.
type ProfitLoss struct {
	Account       string          `json:"account"`
	Realized      decimal.Decimal `json:"realized"`
	Unrealized    decimal.Decimal `json:"unrealized"`
	Total         decimal.Decimal `json:"total"`
	OpenPositions int             `json:"open_positions"`
	Closed        int             `json:"closed_positions"`
}

// BotStats aggregates engine-wide counters.
type BotStats struct {
	TotalAccounts   int             `json:"total_accounts"`
	TotalPositions  int             `json:"total_positions"`
	OpenPositions   int             `json:"open_positions"`
	ClosedPositions int             `json:"closed_positions"`
	Profitable      int             `json:"profitable"`
	SuccessRatePct  decimal.Decimal `json:"success_rate_pct"`
	AvgProfitPct    decimal.Decimal `json:"avg_profit_pct"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	ExitsByReason   map[string]int  `json:"exits_by_reason"`
}

// BlacklistEntry is a token the operator has banned.
type BlacklistEntry struct {
	TokenID   string    `json:"token_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
