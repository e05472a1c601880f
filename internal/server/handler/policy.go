package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/policy"
	"github.com/alanyoungcy/dexsniper/internal/server/middleware"
)

// PolicyAdmin reads and writes the policy.
type PolicyAdmin interface {
	Snapshot() *policy.Snapshot
	Update(ctx context.Context, caller string, cfg domain.PolicyConfig) (*policy.Snapshot, error)
	SetPaused(ctx context.Context, caller string, paused bool) (*policy.Snapshot, error)
	AddBlacklist(ctx context.Context, caller, tokenID, reason string) (*policy.Snapshot, error)
	RemoveBlacklist(ctx context.Context, caller, tokenID string) (*policy.Snapshot, error)
	Blacklist(ctx context.Context) ([]domain.BlacklistEntry, error)
	History(ctx context.Context, limit int) ([]domain.PolicyConfig, error)
}

// PolicyHandler serves the policy, pause switch and blacklist.
type PolicyHandler struct {
	policy PolicyAdmin
	logger *slog.Logger
}

// NewPolicyHandler creates a PolicyHandler.
func NewPolicyHandler(p PolicyAdmin, logger *slog.Logger) *PolicyHandler {
	return &PolicyHandler{policy: p, logger: logger.With(slog.String("handler", "policy"))}
}

// policyDoc is the wire form of domain.PolicyConfig with durations as
// strings such as "72h".
type policyDoc struct {
	Version              int64           `json:"version"`
	MinLiquidityLockDays int             `json:"min_liquidity_lock_days"`
	MinLiquidityLockPct  decimal.Decimal `json:"min_liquidity_lock_pct"`
	MaxTotalSupply       decimal.Decimal `json:"max_total_supply"`
	MinPrice             decimal.Decimal `json:"min_price"`
	TakeProfitPct        decimal.Decimal `json:"take_profit_pct"`
	StopLossPct          decimal.Decimal `json:"stop_loss_pct"`
	MaxHoldingDuration   string          `json:"max_holding_duration"`
	MaxTaxPct            decimal.Decimal `json:"max_tax_pct"`
	SlippageTolerancePct decimal.Decimal `json:"slippage_tolerance_pct"`
	ExitFeeBps           int64           `json:"exit_fee_bps"`
	MinNativeLiquidity   decimal.Decimal `json:"min_native_liquidity"`
	SwapDeadline         string          `json:"swap_deadline"`
	GasMultiplierPct     int64           `json:"gas_multiplier_pct"`
	UpdatedBy            string          `json:"updated_by,omitempty"`
	UpdatedAt            *time.Time      `json:"updated_at,omitempty"`
}

func toDoc(c domain.PolicyConfig) policyDoc {
	d := policyDoc{
		Version:              c.Version,
		MinLiquidityLockDays: c.MinLiquidityLockDays,
		MinLiquidityLockPct:  c.MinLiquidityLockPct,
		MaxTotalSupply:       c.MaxTotalSupply,
		MinPrice:             c.MinPrice,
		TakeProfitPct:        c.TakeProfitPct,
		StopLossPct:          c.StopLossPct,
		MaxHoldingDuration:   c.MaxHoldingDuration.String(),
		MaxTaxPct:            c.MaxTaxPct,
		SlippageTolerancePct: c.SlippageTolerancePct,
		ExitFeeBps:           c.ExitFeeBps,
		MinNativeLiquidity:   c.MinNativeLiquidity,
		SwapDeadline:         c.SwapDeadline.String(),
		GasMultiplierPct:     c.GasMultiplierPct,
		UpdatedBy:            c.UpdatedBy,
	}
	if !c.UpdatedAt.IsZero() {
		at := c.UpdatedAt
		d.UpdatedAt = &at
	}
	return d
}

func (d policyDoc) config() (domain.PolicyConfig, error) {
	hold, err := time.ParseDuration(d.MaxHoldingDuration)
	if err != nil {
		return domain.PolicyConfig{}, fmt.Errorf("max_holding_duration: %w", err)
	}
	deadline, err := time.ParseDuration(d.SwapDeadline)
	if err != nil {
		return domain.PolicyConfig{}, fmt.Errorf("swap_deadline: %w", err)
	}
	return domain.PolicyConfig{
		MinLiquidityLockDays: d.MinLiquidityLockDays,
		MinLiquidityLockPct:  d.MinLiquidityLockPct,
		MaxTotalSupply:       d.MaxTotalSupply,
		MinPrice:             d.MinPrice,
		TakeProfitPct:        d.TakeProfitPct,
		StopLossPct:          d.StopLossPct,
		MaxHoldingDuration:   hold,
		MaxTaxPct:            d.MaxTaxPct,
		SlippageTolerancePct: d.SlippageTolerancePct,
		ExitFeeBps:           d.ExitFeeBps,
		MinNativeLiquidity:   d.MinNativeLiquidity,
		SwapDeadline:         deadline,
		GasMultiplierPct:     d.GasMultiplierPct,
	}, nil
}

type policyResponse struct {
	Version   int64     `json:"version"`
	Paused    bool      `json:"paused"`
	Config    policyDoc `json:"config"`
	Blacklist []string  `json:"blacklist"`
}

func snapshotResponse(s *policy.Snapshot) policyResponse {
	bl := s.Blacklist()
	if bl == nil {
		bl = []string{}
	}
	return policyResponse{Version: s.Version, Paused: s.Paused, Config: toDoc(s.Config), Blacklist: bl}
}

// GetPolicy returns the current snapshot.
// GET /api/policy
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotResponse(h.policy.Snapshot()))
}

// UpdatePolicy publishes new thresholds. The body replaces every field;
// start from GET /api/policy to change one. Admin only.
// PUT /api/policy
func (h *PolicyHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var doc policyDoc
	if err := decodeJSON(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := doc.config()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.policy.Update(r.Context(), middleware.Caller(r.Context()), cfg)
	h.respond(w, r, "update policy", snap, err)
}

// History returns stored versions, newest first.
// GET /api/policy/history?limit=
func (h *PolicyHandler) History(w http.ResponseWriter, r *http.Request) {
	versions, err := h.policy.History(r.Context(), queryInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		writeServiceError(w, r, h.logger, "policy history", err)
		return
	}
	docs := make([]policyDoc, 0, len(versions))
	for _, v := range versions {
		docs = append(docs, toDoc(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": docs})
}

// Pause stops new snipes. Admin only.
// POST /api/policy/pause
func (h *PolicyHandler) Pause(w http.ResponseWriter, r *http.Request) {
	snap, err := h.policy.SetPaused(r.Context(), middleware.Caller(r.Context()), true)
	h.respond(w, r, "pause", snap, err)
}

// Resume re-enables snipes. Admin only.
// POST /api/policy/resume
func (h *PolicyHandler) Resume(w http.ResponseWriter, r *http.Request) {
	snap, err := h.policy.SetPaused(r.Context(), middleware.Caller(r.Context()), false)
	h.respond(w, r, "resume", snap, err)
}

// ListBlacklist returns banned tokens with reasons.
// GET /api/blacklist
func (h *PolicyHandler) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.policy.Blacklist(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list blacklist", err)
		return
	}
	if entries == nil {
		entries = []domain.BlacklistEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// AddBlacklist bans a token. Admin only.
// PUT /api/blacklist/{token} {"reason"}
func (h *PolicyHandler) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.policy.AddBlacklist(r.Context(), middleware.Caller(r.Context()), pathParam(r, "token"), body.Reason)
	h.respond(w, r, "add blacklist", snap, err)
}

// RemoveBlacklist lifts a ban. Admin only.
// DELETE /api/blacklist/{token}
func (h *PolicyHandler) RemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	snap, err := h.policy.RemoveBlacklist(r.Context(), middleware.Caller(r.Context()), pathParam(r, "token"))
	h.respond(w, r, "remove blacklist", snap, err)
}

// respond writes the new snapshot. A write that was applied but failed to
// persist still returns the snapshot, flagged with a warning.
func (h *PolicyHandler) respond(w http.ResponseWriter, r *http.Request, op string, snap *policy.Snapshot, err error) {
	if err != nil && snap == nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" not persisted", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, map[string]any{
			"policy":  snapshotResponse(snap),
			"warning": "applied but not persisted",
		})
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(snap))
}
