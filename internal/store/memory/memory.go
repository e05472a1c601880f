// Package memory holds process-local implementations of the domain stores.
// They back the engine when no database is configured and are used as
// fixtures in tests. Nothing survives a restart.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// page applies ListOpts to rows already sorted in result order.
func page[T any](rows []T, at func(T) time.Time, opts domain.ListOpts) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		t := at(r)
		if opts.Since != nil && t.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && t.After(*opts.Until) {
			continue
		}
		out = append(out, r)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

func openedAt(p domain.Position) time.Time { return p.OpenedAt }

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	rows map[string]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{rows: make(map[string]domain.Position)}
}

func (s *PositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; ok {
		return fmt.Errorf("memory: position %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	s.rows[p.ID] = p
	return nil
}

// Update rejects writes to closed rows, as the database does.
func (s *PositionStore) Update(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[p.ID]
	if !ok {
		return fmt.Errorf("memory: position %s: %w", p.ID, domain.ErrNotFound)
	}
	if !cur.IsOpen() {
		return fmt.Errorf("memory: update position %s: %w", p.ID, domain.ErrAlreadyClosed)
	}
	s.rows[p.ID] = p
	return nil
}

func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.rows[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// olderThan reports whether p sorts after c in a newest-first listing.
func olderThan(p domain.Position, c *domain.Cursor) bool {
	if c == nil {
		return true
	}
	if d := p.OpenedAt.Compare(c.At); d != 0 {
		return d < 0
	}
	return p.ID < c.ID
}

// sorted returns the rows matching keep ordered by opened_at, newest first
// unless asc.
func (s *PositionStore) sorted(keep func(domain.Position) bool, asc bool) []domain.Position {
	s.mu.RLock()
	out := make([]domain.Position, 0, len(s.rows))
	for _, p := range s.rows {
		if keep(p) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Position) int {
		c := a.OpenedAt.Compare(b.OpenedAt)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if !asc {
			c = -c
		}
		return c
	})
	return out
}

func (s *PositionStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	all := s.sorted(func(p domain.Position) bool { return olderThan(p, opts.After) }, false)
	return page(all, openedAt, opts), nil
}

func (s *PositionStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	return s.sorted(func(p domain.Position) bool { return p.IsOpen() }, true), nil
}

func (s *PositionStore) ListByAccount(_ context.Context, account string, opts domain.ListOpts) ([]domain.Position, error) {
	all := s.sorted(func(p domain.Position) bool { return p.Account == account && olderThan(p, opts.After) }, false)
	return page(all, openedAt, opts), nil
}

func (s *PositionStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	out := s.sorted(func(p domain.Position) bool {
		return !p.IsOpen() && p.ClosedAt != nil && p.ClosedAt.Before(before)
	}, true)
	slices.SortStableFunc(out, func(a, b domain.Position) int { return a.ClosedAt.Compare(*b.ClosedAt) })
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	clock   func() time.Time
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{clock: time.Now}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.clock().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	out := make([]domain.AuditEntry, len(s.entries))
	for i, e := range s.entries {
		out[len(out)-1-i] = e
	}
	s.mu.RUnlock()
	return page(out, func(e domain.AuditEntry) time.Time { return e.CreatedAt }, opts), nil
}

// Events returns the event names in the order they were logged.
func (s *AuditStore) Events() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Event
	}
	return out
}

// PolicyStore implements domain.PolicyStore.
type PolicyStore struct {
	mu       sync.RWMutex
	versions []domain.PolicyConfig
	clock    func() time.Time
}

// NewPolicyStore creates an empty PolicyStore.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{clock: time.Now}
}

func (s *PolicyStore) Save(_ context.Context, cfg domain.PolicyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.Version == cfg.Version {
			return fmt.Errorf("memory: policy version %d: %w", cfg.Version, domain.ErrAlreadyExists)
		}
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = s.clock().UTC()
	}
	s.versions = append(s.versions, cfg)
	slices.SortFunc(s.versions, func(a, b domain.PolicyConfig) int { return cmp.Compare(a.Version, b.Version) })
	return nil
}

func (s *PolicyStore) Latest(_ context.Context) (domain.PolicyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return domain.PolicyConfig{}, fmt.Errorf("memory: latest policy: %w", domain.ErrNotFound)
	}
	return s.versions[len(s.versions)-1], nil
}

// History returns up to limit versions, newest first. limit <= 0 means 50.
func (s *PolicyStore) History(_ context.Context, limit int) ([]domain.PolicyConfig, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PolicyConfig, 0, min(limit, len(s.versions)))
	for i := len(s.versions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.versions[i])
	}
	return out, nil
}

// BlacklistStore implements domain.BlacklistStore.
type BlacklistStore struct {
	mu      sync.RWMutex
	entries map[string]domain.BlacklistEntry
	clock   func() time.Time
}

// NewBlacklistStore creates an empty BlacklistStore.
func NewBlacklistStore() *BlacklistStore {
	return &BlacklistStore{entries: make(map[string]domain.BlacklistEntry), clock: time.Now}
}

func (s *BlacklistStore) IsBlacklisted(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[domain.NormalizeToken(tokenID)]
	return ok, nil
}

// Add inserts an entry or replaces its reason.
func (s *BlacklistStore) Add(_ context.Context, e domain.BlacklistEntry) error {
	e.TokenID = domain.NormalizeToken(e.TokenID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[e.TokenID]; ok {
		e.CreatedAt = cur.CreatedAt
	} else if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	s.entries[e.TokenID] = e
	return nil
}

func (s *BlacklistStore) Remove(_ context.Context, tokenID string) error {
	token := domain.NormalizeToken(tokenID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[token]; !ok {
		return fmt.Errorf("memory: blacklist %s: %w", token, domain.ErrNotFound)
	}
	delete(s.entries, token)
	return nil
}

func (s *BlacklistStore) List(_ context.Context) ([]domain.BlacklistEntry, error) {
	s.mu.RLock()
	out := make([]domain.BlacklistEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.BlacklistEntry) int { return cmp.Compare(a.TokenID, b.TokenID) })
	return out, nil
}

// AccountStore implements domain.AccountStore.
type AccountStore struct {
	mu    sync.Mutex
	rows  map[string]domain.Account
	clock func() time.Time
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{rows: make(map[string]domain.Account), clock: time.Now}
}

func (s *AccountStore) Get(_ context.Context, id string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("memory: account %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (s *AccountStore) Upsert(_ context.Context, a domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	if cur, ok := s.rows[a.ID]; ok {
		a.CreatedAt = cur.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.rows[a.ID] = a
	return nil
}

func (s *AccountStore) List(_ context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	out := make([]domain.Account, 0, len(s.rows))
	for _, a := range s.rows {
		out = append(out, a)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b domain.Account) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *AccountStore) Adjust(_ context.Context, id string, delta decimal.Decimal, kind domain.BalanceChange) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	a, ok := s.rows[id]
	if !ok {
		a = domain.Account{ID: id, CreatedAt: now}
	}
	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return domain.Account{}, fmt.Errorf("memory: account %s: %w", id, domain.ErrInsufficientFunds)
	}
	a.Balance = next
	switch kind {
	case domain.BalanceDeposit:
		a.TotalDeposited = a.TotalDeposited.Add(delta)
	case domain.BalanceWithdrawal:
		a.TotalWithdrawn = a.TotalWithdrawn.Sub(delta)
	}
	a.UpdatedAt = now
	s.rows[id] = a
	return a, nil
}

var (
	_ domain.PositionStore  = (*PositionStore)(nil)
	_ domain.AuditStore     = (*AuditStore)(nil)
	_ domain.PolicyStore    = (*PolicyStore)(nil)
	_ domain.BlacklistStore = (*BlacklistStore)(nil)
	_ domain.AccountStore   = (*AccountStore)(nil)
)
