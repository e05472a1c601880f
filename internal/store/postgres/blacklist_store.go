package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// BlacklistStore implements domain.BlacklistStore using PostgreSQL.
type BlacklistStore struct {
	pool *pgxpool.Pool
}

// NewBlacklistStore creates a new BlacklistStore.
func NewBlacklistStore(pool *pgxpool.Pool) *BlacklistStore {
	return &BlacklistStore{pool: pool}
}

func (s *BlacklistStore) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM blacklist WHERE token_id = $1)`,
		domain.NormalizeToken(tokenID)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: blacklist lookup %s: %w", tokenID, err)
	}
	return ok, nil
}

// Add inserts or refreshes the reason of an entry.
func (s *BlacklistStore) Add(ctx context.Context, e domain.BlacklistEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blacklist (token_id, reason) VALUES ($1, $2)
		ON CONFLICT (token_id) DO UPDATE SET reason = EXCLUDED.reason`,
		domain.NormalizeToken(e.TokenID), e.Reason)
	if err != nil {
		return fmt.Errorf("postgres: blacklist add %s: %w", e.TokenID, err)
	}
	return nil
}

func (s *BlacklistStore) Remove(ctx context.Context, tokenID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blacklist WHERE token_id = $1`, domain.NormalizeToken(tokenID))
	if err != nil {
		return fmt.Errorf("postgres: blacklist remove %s: %w", tokenID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: blacklist remove %s: %w", tokenID, domain.ErrNotFound)
	}
	return nil
}

func (s *BlacklistStore) List(ctx context.Context) ([]domain.BlacklistEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT token_id, reason, created_at FROM blacklist ORDER BY token_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list blacklist: %w", err)
	}
	defer rows.Close()
	var out []domain.BlacklistEntry
	for rows.Next() {
		var e domain.BlacklistEntry
		if err := rows.Scan(&e.TokenID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan blacklist: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
