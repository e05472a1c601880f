package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// ExitHandler serves the durable exit history kept on the signal bus.
type ExitHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewExitHandler creates an ExitHandler.
func NewExitHandler(bus domain.SignalBus, logger *slog.Logger) *ExitHandler {
	return &ExitHandler{bus: bus, logger: logger}
}

type exitEntry struct {
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record"`
}

// Recent lists exit records after the "after" cursor.
// GET /api/exits?after=0&limit=50
func (h *ExitHandler) Recent(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := min(queryInt(r.URL.Query().Get("limit"), 50), 500)

	msgs, err := h.bus.StreamRead(r.Context(), domain.StreamExits, after, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "read exits", err)
		return
	}
	out := make([]exitEntry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, exitEntry{ID: m.ID, Record: m.Payload})
	}
	next := after
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"exits": out, "next": next})
}
