package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	// After resumes a newest-first listing strictly past the given row.
	// Unlike Offset it stays stable while rows are being inserted.
	After *Cursor
}

// Cursor identifies a row by its sort time and id.
type Cursor struct {
	At time.Time
	ID string
}

// PositionStore persists positions. Closed positions are kept for history.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	List(ctx context.Context, opts ListOpts) ([]Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListByAccount(ctx context.Context, account string, opts ListOpts) ([]Position, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// PolicyStore keeps every published policy version.
type PolicyStore interface {
	Save(ctx context.Context, cfg PolicyConfig) error
	Latest(ctx context.Context) (PolicyConfig, error)
	History(ctx context.Context, limit int) ([]PolicyConfig, error)
}

// BlacklistStore is the operator-managed set of banned tokens.
type BlacklistStore interface {
	IsBlacklisted(ctx context.Context, tokenID string) (bool, error)
	Add(ctx context.Context, entry BlacklistEntry) error
	Remove(ctx context.Context, tokenID string) error
	List(ctx context.Context) ([]BlacklistEntry, error)
}

// AccountStore persists account balances.
type AccountStore interface {
	Get(ctx context.Context, id string) (Account, error)
	Upsert(ctx context.Context, acct Account) error
	List(ctx context.Context) ([]Account, error)
	// Adjust adds delta to the balance atomically and fails with
	// ErrInsufficientFunds when the result would be negative. Deposits and
	// withdrawals also move the matching running total.
	Adjust(ctx context.Context, id string, delta decimal.Decimal, kind BalanceChange) (Account, error)
}

// BalanceChange classifies an account adjustment.
type BalanceChange string

const (
	BalanceDeposit    BalanceChange = "deposit"
	BalanceWithdrawal BalanceChange = "withdrawal"
	BalanceTrade      BalanceChange = "trade"
)
