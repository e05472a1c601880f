package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, account_id, network, token_id,
	entry_price, highest_price, amount_held, cost_basis,
	status, exit_reason, exit_proceeds, exit_fee, realized_pnl,
	policy_version, opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status, reason string
	err := row.Scan(
		&p.ID, &p.Account, &p.Network, &p.TokenID,
		&p.EntryPrice, &p.HighestPrice, &p.AmountHeld, &p.CostBasis,
		&status, &reason, &p.ExitProceeds, &p.ExitFee, &p.RealizedPnL,
		&p.PolicyVersion, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	p.ExitReason = domain.ExitReason(reason)
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, account_id, network, token_id,
			entry_price, highest_price, amount_held, cost_basis,
			status, exit_reason, exit_proceeds, exit_fee, realized_pnl,
			policy_version, opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Account, p.Network, p.TokenID,
		p.EntryPrice, p.HighestPrice, p.AmountHeld, p.CostBasis,
		string(p.Status), string(p.ExitReason), p.ExitProceeds, p.ExitFee, p.RealizedPnL,
		p.PolicyVersion, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update writes the mutable fields of an open position. Closed rows are
// frozen: updating one fails with ErrAlreadyClosed.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			highest_price = $2,
			amount_held   = $3,
			status        = $4,
			exit_reason   = $5,
			exit_proceeds = $6,
			exit_fee      = $7,
			realized_pnl  = $8,
			closed_at     = $9,
			updated_at    = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.HighestPrice, p.AmountHeld,
		string(p.Status), string(p.ExitReason),
		p.ExitProceeds, p.ExitFee, p.RealizedPnL, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	existing, err := s.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if !existing.IsOpen() {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, domain.ErrAlreadyClosed)
	}
	return fmt.Errorf("postgres: update position %s: no rows affected", p.ID)
}

// GetByID returns a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// List returns positions newest first.
func (s *PositionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := listClause(`SELECT `+positionSelectCols+` FROM positions WHERE 1=1`, nil, "opened_at", "id", opts, "DESC")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	return out, nil
}

// ListOpen returns every open position, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'open' ORDER BY opened_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	return out, nil
}

// ListByAccount returns an account's positions newest first.
func (s *PositionStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := listClause(`SELECT `+positionSelectCols+` FROM positions WHERE account_id = $1`,
		[]any{account}, "opened_at", "id", opts, "DESC")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", account, err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", account, err)
	}
	return out, nil
}

// ListClosedBefore returns positions closed strictly before the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status = 'closed' AND closed_at < $1 ORDER BY closed_at`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	return out, nil
}
