package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/server/middleware"
	"github.com/alanyoungcy/dexsniper/internal/service"
)

// Book is the live set of open positions.
type Book interface {
	Lookup(ctx context.Context, id string) (domain.Position, error)
	OpenPositions() []domain.Position
	OpenByAccount(account string) []domain.Position
}

// Sniper opens positions.
type Sniper interface {
	Snipe(ctx context.Context, req service.SnipeRequest) (domain.Position, error)
}

// Exits closes positions on request.
type Exits interface {
	ManualExit(ctx context.Context, account, positionID string) (domain.Position, error)
	EmergencyExit(ctx context.Context, caller, positionID string, force bool) (domain.Position, error)
}

// PositionHandler serves snipes, position queries and exits.
type PositionHandler struct {
	book      Book
	positions domain.PositionStore
	snipes    Sniper
	exits     Exits
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(book Book, positions domain.PositionStore, snipes Sniper, exits Exits, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		book:      book,
		positions: positions,
		snipes:    snipes,
		exits:     exits,
		logger:    logger.With(slog.String("handler", "positions")),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// Snipe buys a token for an account.
// POST /api/snipes {"account","token_id","amount"}
func (h *PositionHandler) Snipe(w http.ResponseWriter, r *http.Request) {
	var req service.SnipeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Account == "" || req.TokenID == "" {
		writeError(w, http.StatusBadRequest, "account and token_id are required")
		return
	}
	pos, err := h.snipes.Snipe(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "snipe", err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// ListPositions returns positions. status=open reads the live book;
// anything else pages through the store, newest first.
// GET /api/positions?account=&status=open&limit=&offset=
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	account := q.Get("account")

	var positions []domain.Position
	if q.Get("status") == string(domain.PositionStatusOpen) {
		if account != "" {
			positions = h.book.OpenByAccount(account)
		} else {
			positions = h.book.OpenPositions()
		}
	} else {
		var err error
		opts := parseListOpts(r)
		if account != "" {
			positions, err = h.positions.ListByAccount(r.Context(), account, opts)
		} else {
			positions, err = h.positions.List(r.Context(), opts)
		}
		if err != nil {
			writeServiceError(w, r, h.logger, "list positions", err)
			return
		}
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position, open or closed.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.book.Lookup(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Exit sells a position on its owner's behalf.
// POST /api/positions/{id}/exit {"account"}
func (h *PositionHandler) Exit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account string `json:"account"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	pos, err := h.exits.ManualExit(r.Context(), body.Account, pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "exit", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// EmergencyExit liquidates any position. Admin only.
// POST /api/positions/{id}/emergency {"force"}
func (h *PositionHandler) EmergencyExit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Force bool `json:"force"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.exits.EmergencyExit(r.Context(), middleware.Caller(r.Context()), pathParam(r, "id"), body.Force)
	if err != nil {
		writeServiceError(w, r, h.logger, "emergency exit", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
