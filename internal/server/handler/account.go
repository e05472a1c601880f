package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// Ledger moves account balances.
type Ledger interface {
	Balance(ctx context.Context, account string) (domain.Account, error)
	Deposit(ctx context.Context, account string, amount decimal.Decimal) (domain.Account, error)
	Withdraw(ctx context.Context, account string, amount decimal.Decimal) (domain.Account, error)
}

// Reports computes profit and loss.
type Reports interface {
	ProfitLoss(ctx context.Context, account string) (domain.ProfitLoss, error)
	Stats(ctx context.Context) (domain.BotStats, error)
}

// AccountHandler serves balances, funding and PnL.
type AccountHandler struct {
	ledger  Ledger
	reports Reports
	logger  *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(ledger Ledger, reports Reports, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{ledger: ledger, reports: reports, logger: logger.With(slog.String("handler", "accounts"))}
}

// GetAccount returns an account's balance and running totals.
// GET /api/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.ledger.Balance(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Deposit credits an account, creating it on first use.
// POST /api/accounts/{id}/deposit {"amount"}
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "deposit", h.ledger.Deposit)
}

// Withdraw debits an account.
// POST /api/accounts/{id}/withdraw {"amount"}
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "withdraw", h.ledger.Withdraw)
}

func (h *AccountHandler) move(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string, decimal.Decimal) (domain.Account, error)) {
	var body amountBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := fn(r.Context(), pathParam(r, "id"), body.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ProfitLoss returns realized and unrealized PnL.
// GET /api/accounts/{id}/pnl
func (h *AccountHandler) ProfitLoss(w http.ResponseWriter, r *http.Request) {
	pl, err := h.reports.ProfitLoss(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "pnl", err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

// Stats returns engine-wide statistics.
// GET /api/stats
func (h *AccountHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.reports.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
