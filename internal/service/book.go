package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// errUnchanged lets a Mutate callback skip the store write.
var errUnchanged = errors.New("unchanged")

type bookEntry struct {
	mu  sync.Mutex
	pos domain.Position
}

// PositionBook is the working set of open positions: an arena keyed by
// position id plus a per-account index. Every change is written through to
// the PositionStore before it becomes visible here. Closed positions leave
// the book and are served from the store.
type PositionBook struct {
	store  domain.PositionStore
	logger *slog.Logger

	mu        sync.RWMutex
	byID      map[string]*bookEntry
	byAccount map[string]map[string]struct{}
}

// NewPositionBook creates an empty book.
func NewPositionBook(store domain.PositionStore, logger *slog.Logger) *PositionBook {
	return &PositionBook{
		store:     store,
		logger:    logger.With(slog.String("component", "position_book")),
		byID:      make(map[string]*bookEntry),
		byAccount: make(map[string]map[string]struct{}),
	}
}

// Load replaces the book's contents with the store's open positions.
func (b *PositionBook) Load(ctx context.Context) error {
	open, err := b.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("position_book: load: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byID = make(map[string]*bookEntry, len(open))
	b.byAccount = make(map[string]map[string]struct{})
	for _, p := range open {
		b.insertLocked(p)
	}
	b.logger.InfoContext(ctx, "position_book: loaded", slog.Int("open", len(open)))
	return nil
}

// Open persists a new position and adds it to the book.
func (b *PositionBook) Open(ctx context.Context, pos domain.Position) error {
	if !pos.IsOpen() {
		return fmt.Errorf("position_book: open %s: %w", pos.ID, domain.ErrAlreadyClosed)
	}
	if err := b.store.Create(ctx, pos); err != nil {
		return fmt.Errorf("position_book: open %s: %w", pos.ID, err)
	}
	b.mu.Lock()
	b.insertLocked(pos)
	b.mu.Unlock()
	return nil
}

func (b *PositionBook) insertLocked(pos domain.Position) {
	b.byID[pos.ID] = &bookEntry{pos: pos}
	idx, ok := b.byAccount[pos.Account]
	if !ok {
		idx = make(map[string]struct{})
		b.byAccount[pos.Account] = idx
	}
	idx[pos.ID] = struct{}{}
}

func (b *PositionBook) removeLocked(pos domain.Position) {
	delete(b.byID, pos.ID)
	if idx, ok := b.byAccount[pos.Account]; ok {
		delete(idx, pos.ID)
		if len(idx) == 0 {
			delete(b.byAccount, pos.Account)
		}
	}
}

// Get returns a copy of an open position.
func (b *PositionBook) Get(id string) (domain.Position, bool) {
	b.mu.RLock()
	e, ok := b.byID[id]
	b.mu.RUnlock()
	if !ok {
		return domain.Position{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, true
}

// Lookup returns a position whether open or closed.
func (b *PositionBook) Lookup(ctx context.Context, id string) (domain.Position, error) {
	if p, ok := b.Get(id); ok {
		return p, nil
	}
	p, err := b.store.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_book: lookup %s: %w", id, err)
	}
	return p, nil
}

// Open positions, oldest first.
func (b *PositionBook) OpenPositions() []domain.Position {
	b.mu.RLock()
	entries := make([]*bookEntry, 0, len(b.byID))
	for _, e := range b.byID {
		entries = append(entries, e)
	}
	b.mu.RUnlock()
	return snapshotEntries(entries)
}

// OpenByAccount returns one account's open positions, oldest first.
func (b *PositionBook) OpenByAccount(account string) []domain.Position {
	b.mu.RLock()
	idx := b.byAccount[account]
	entries := make([]*bookEntry, 0, len(idx))
	for id := range idx {
		entries = append(entries, b.byID[id])
	}
	b.mu.RUnlock()
	return snapshotEntries(entries)
}

func snapshotEntries(entries []*bookEntry) []domain.Position {
	out := make([]domain.Position, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.pos)
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b domain.Position) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Count returns the number of open positions.
func (b *PositionBook) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// Mutate applies fn to a working copy of an open position under that
// position's lock. When fn succeeds the copy is persisted and then
// published; when fn or the store fails the book keeps the old state.
// Positions that fn closes leave the book. Unknown ids fail with
// ErrAlreadyClosed if the store has them closed, ErrNotFound otherwise.
func (b *PositionBook) Mutate(ctx context.Context, id string, fn func(*domain.Position) error) (domain.Position, error) {
	b.mu.RLock()
	e, ok := b.byID[id]
	b.mu.RUnlock()
	if !ok {
		return domain.Position{}, b.missing(ctx, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pos.IsOpen() {
		return e.pos, fmt.Errorf("position_book: mutate %s: %w", id, domain.ErrAlreadyClosed)
	}

	working := e.pos
	if err := fn(&working); err != nil {
		if errors.Is(err, errUnchanged) {
			return e.pos, nil
		}
		return e.pos, err
	}
	if err := b.store.Update(ctx, working); err != nil {
		return e.pos, fmt.Errorf("position_book: persist %s: %w", id, err)
	}
	e.pos = working

	if !working.IsOpen() {
		b.mu.Lock()
		b.removeLocked(working)
		b.mu.Unlock()
	}
	return working, nil
}

func (b *PositionBook) missing(ctx context.Context, id string) error {
	p, err := b.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("position_book: %s: %w", id, err)
	}
	if !p.IsOpen() {
		return fmt.Errorf("position_book: %s: %w", id, domain.ErrAlreadyClosed)
	}
	return fmt.Errorf("position_book: %s open in store but not loaded: %w", id, domain.ErrNotFound)
}
