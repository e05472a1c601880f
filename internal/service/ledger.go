package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// Ledger moves native balances in and out of accounts. Snipes debit the
// amount spent and exits credit the net proceeds.
type Ledger struct {
	accounts domain.AccountStore
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewLedger creates a Ledger.
func NewLedger(accounts domain.AccountStore, auditStore domain.AuditStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		accounts: accounts,
		audit:    auditStore,
		logger:   logger.With(slog.String("component", "ledger")),
	}
}

// Balance returns an account. Unknown accounts fail with ErrNotFound.
func (l *Ledger) Balance(ctx context.Context, account string) (domain.Account, error) {
	a, err := l.accounts.Get(ctx, account)
	if err != nil {
		return domain.Account{}, fmt.Errorf("ledger: balance %s: %w", account, err)
	}
	return a, nil
}

// Deposit credits amount, creating the account on first use.
func (l *Ledger) Deposit(ctx context.Context, account string, amount decimal.Decimal) (domain.Account, error) {
	return l.adjust(ctx, account, amount, false, domain.BalanceDeposit)
}

// Withdraw debits amount.
func (l *Ledger) Withdraw(ctx context.Context, account string, amount decimal.Decimal) (domain.Account, error) {
	return l.adjust(ctx, account, amount, true, domain.BalanceWithdrawal)
}

// Debit reserves the cost of a snipe.
func (l *Ledger) Debit(ctx context.Context, account string, amount decimal.Decimal) (domain.Account, error) {
	return l.adjust(ctx, account, amount, true, domain.BalanceTrade)
}

// Credit returns trade proceeds or a refund. A zero credit is a no-op.
func (l *Ledger) Credit(ctx context.Context, account string, amount decimal.Decimal) (domain.Account, error) {
	if amount.IsZero() {
		return l.Balance(ctx, account)
	}
	return l.adjust(ctx, account, amount, false, domain.BalanceTrade)
}

func (l *Ledger) adjust(ctx context.Context, account string, amount decimal.Decimal, debit bool, kind domain.BalanceChange) (domain.Account, error) {
	if account == "" {
		return domain.Account{}, fmt.Errorf("ledger: empty account: %w", domain.ErrNotFound)
	}
	if !amount.IsPositive() {
		return domain.Account{}, fmt.Errorf("ledger: %s %s: %w", kind, amount, domain.ErrInvalidAmount)
	}
	delta := amount
	if debit {
		delta = amount.Neg()
	}
	a, err := l.accounts.Adjust(ctx, account, delta, kind)
	if err != nil {
		return domain.Account{}, fmt.Errorf("ledger: %s %s for %s: %w", kind, amount, account, err)
	}
	if kind != domain.BalanceTrade {
		audit(ctx, l.audit, l.logger, "account."+string(kind), map[string]any{
			"account": account,
			"amount":  amount.String(),
			"balance": a.Balance.String(),
		})
		l.logger.InfoContext(ctx, "ledger: "+string(kind),
			slog.String("account", account),
			slog.String("amount", amount.String()),
			slog.String("balance", a.Balance.String()),
		)
	}
	return a, nil
}
