package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountCols = `id, balance, total_deposited, total_withdrawn, created_at, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Balance, &a.TotalDeposited, &a.TotalWithdrawn, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *AccountStore) Get(ctx context.Context, id string) (domain.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("postgres: account %s: %w", id, domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

func (s *AccountStore) Upsert(ctx context.Context, a domain.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, balance, total_deposited, total_withdrawn)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			balance         = EXCLUDED.balance,
			total_deposited = EXCLUDED.total_deposited,
			total_withdrawn = EXCLUDED.total_withdrawn,
			updated_at      = NOW()`,
		a.ID, a.Balance, a.TotalDeposited, a.TotalWithdrawn)
	if err != nil {
		return fmt.Errorf("postgres: upsert account %s: %w", a.ID, err)
	}
	return nil
}

func (s *AccountStore) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()
	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Adjust applies delta under a row lock. The account is created on first
// credit; a debit that would go negative fails with ErrInsufficientFunds.
func (s *AccountStore) Adjust(ctx context.Context, id string, delta decimal.Decimal, kind domain.BalanceChange) (domain.Account, error) {
	var out domain.Account
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
			return fmt.Errorf("postgres: ensure account %s: %w", id, err)
		}
		a, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return fmt.Errorf("postgres: lock account %s: %w", id, err)
		}
		next := a.Balance.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("postgres: adjust account %s by %s: %w", id, delta, domain.ErrInsufficientFunds)
		}
		a.Balance = next
		switch kind {
		case domain.BalanceDeposit:
			a.TotalDeposited = a.TotalDeposited.Add(delta)
		case domain.BalanceWithdrawal:
			a.TotalWithdrawn = a.TotalWithdrawn.Sub(delta)
		}
		a.UpdatedAt = time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET balance = $2, total_deposited = $3, total_withdrawn = $4, updated_at = $5
			WHERE id = $1`,
			id, a.Balance, a.TotalDeposited, a.TotalWithdrawn, a.UpdatedAt); err != nil {
			return fmt.Errorf("postgres: adjust account %s: %w", id, err)
		}
		out = a
		return nil
	})
	return out, err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
