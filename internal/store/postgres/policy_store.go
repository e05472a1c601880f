package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// PolicyStore keeps every published policy version as a JSONB document.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore creates a new PolicyStore.
func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

// Save records cfg under cfg.Version. Versions are immutable; saving an
// existing version fails with ErrAlreadyExists.
func (s *PolicyStore) Save(ctx context.Context, cfg domain.PolicyConfig) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: marshal policy v%d: %w", cfg.Version, err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO policy_versions (version, config, updated_by, created_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()))
		ON CONFLICT (version) DO NOTHING`,
		cfg.Version, doc, cfg.UpdatedBy, nullTime(cfg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: save policy v%d: %w", cfg.Version, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: save policy v%d: %w", cfg.Version, domain.ErrAlreadyExists)
	}
	return nil
}

// Latest returns the highest version, or ErrNotFound on a fresh database.
func (s *PolicyStore) Latest(ctx context.Context) (domain.PolicyConfig, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT config FROM policy_versions ORDER BY version DESC LIMIT 1`).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PolicyConfig{}, fmt.Errorf("postgres: latest policy: %w", domain.ErrNotFound)
		}
		return domain.PolicyConfig{}, fmt.Errorf("postgres: latest policy: %w", err)
	}
	var cfg domain.PolicyConfig
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return domain.PolicyConfig{}, fmt.Errorf("postgres: decode policy: %w", err)
	}
	return cfg, nil
}

// History returns up to limit versions, newest first.
func (s *PolicyStore) History(ctx context.Context, limit int) ([]domain.PolicyConfig, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT config FROM policy_versions ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: policy history: %w", err)
	}
	defer rows.Close()

	var out []domain.PolicyConfig
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan policy: %w", err)
		}
		var cfg domain.PolicyConfig
		if err := json.Unmarshal(doc, &cfg); err != nil {
			return nil, fmt.Errorf("postgres: decode policy: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}
