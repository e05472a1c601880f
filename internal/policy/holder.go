package policy

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// Snapshot is one immutable version of the engine's mutable state. Every
// evaluation reads exactly one snapshot.
type Snapshot struct {
	Version   int64
	Config    domain.PolicyConfig
	Paused    bool
	blacklist map[string]struct{}
}

// Contains reports whether tokenID is blacklisted in this version.
func (s *Snapshot) Contains(tokenID string) bool {
	_, ok := s.blacklist[domain.NormalizeToken(tokenID)]
	return ok
}

// Blacklist returns the blacklisted tokens in sorted order.
func (s *Snapshot) Blacklist() []string {
	out := make([]string, 0, len(s.blacklist))
	for t := range s.blacklist {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (s *Snapshot) next() *Snapshot {
	bl := make(map[string]struct{}, len(s.blacklist))
	for t := range s.blacklist {
		bl[t] = struct{}{}
	}
	return &Snapshot{
		Version:   s.Version + 1,
		Config:    s.Config,
		Paused:    s.Paused,
		blacklist: bl,
	}
}

// Holder publishes snapshots. Reads are lock-free; writes are serialised and
// accepted only from the configured operator.
type Holder struct {
	operator string
	clock    func() time.Time

	mu  sync.Mutex
	cur atomic.Pointer[Snapshot]
}

// NewHolder validates cfg and publishes it as the given version. Restoring a
// persisted state passes its stored version; a fresh start passes 1.
func NewHolder(operator string, version int64, cfg domain.PolicyConfig, blacklist []string, paused bool) (*Holder, error) {
	if operator == "" {
		return nil, fmt.Errorf("policy: holder: empty operator")
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if version < 1 {
		version = 1
	}
	cfg.Version = version
	snap := &Snapshot{
		Version:   version,
		Config:    cfg,
		Paused:    paused,
		blacklist: make(map[string]struct{}, len(blacklist)),
	}
	for _, t := range blacklist {
		if t = domain.NormalizeToken(t); t != "" {
			snap.blacklist[t] = struct{}{}
		}
	}
	h := &Holder{operator: operator, clock: time.Now}
	h.cur.Store(snap)
	return h, nil
}

// Current returns the latest snapshot.
func (h *Holder) Current() *Snapshot {
	return h.cur.Load()
}

// Operator returns the identity allowed to write.
func (h *Holder) Operator() string {
	return h.operator
}

// UpdateConfig replaces the thresholds.
func (h *Holder) UpdateConfig(caller string, cfg domain.PolicyConfig) (*Snapshot, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return h.write(caller, func(s *Snapshot) {
		s.Config = cfg
	})
}

// SetPaused toggles new entries. Exits are never paused.
func (h *Holder) SetPaused(caller string, paused bool) (*Snapshot, error) {
	return h.write(caller, func(s *Snapshot) {
		s.Paused = paused
	})
}

// AddBlacklist blacklists tokenID.
func (h *Holder) AddBlacklist(caller, tokenID string) (*Snapshot, error) {
	t := domain.NormalizeToken(tokenID)
	if t == "" {
		return nil, fmt.Errorf("policy: blacklist: %w", domain.ErrInvalidToken)
	}
	return h.write(caller, func(s *Snapshot) {
		s.blacklist[t] = struct{}{}
	})
}

// RemoveBlacklist lifts a blacklist entry. Removing an unknown token is not
// an error but still produces a new version.
func (h *Holder) RemoveBlacklist(caller, tokenID string) (*Snapshot, error) {
	t := domain.NormalizeToken(tokenID)
	return h.write(caller, func(s *Snapshot) {
		delete(s.blacklist, t)
	})
}

func (h *Holder) write(caller string, mutate func(*Snapshot)) (*Snapshot, error) {
	if caller != h.operator {
		return nil, fmt.Errorf("policy: write by %q: %w", caller, domain.ErrUnauthorized)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.cur.Load().next()
	mutate(next)
	next.Config.Version = next.Version
	next.Config.UpdatedBy = caller
	next.Config.UpdatedAt = h.clock().UTC()
	h.cur.Store(next)
	return next, nil
}
