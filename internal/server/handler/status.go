package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/dexsniper/internal/policy"
)

// StatusSource reports live engine state.
type StatusSource interface {
	Snapshot() *policy.Snapshot
}

// Counter reports the number of open positions.
type Counter interface {
	Count() int
}

// StatusHandler serves the engine status for dashboards.
type StatusHandler struct {
	Mode      string
	Network   string
	StartedAt time.Time
	policy    StatusSource
	book      Counter
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, network string, startedAt time.Time, pol StatusSource, book Counter) *StatusHandler {
	return &StatusHandler{Mode: mode, Network: network, StartedAt: startedAt, policy: pol, book: book}
}

// Status is the body of GET /api/status. The WebSocket hub sends the same
// document to clients on connect.
type Status struct {
	Mode          string `json:"mode"`
	Network       string `json:"network"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	PolicyVersion int64  `json:"policy_version"`
	Paused        bool   `json:"paused"`
	OpenPositions int    `json:"open_positions"`
}

// Current builds a Status.
func (h *StatusHandler) Current() Status {
	snap := h.policy.Snapshot()
	return Status{
		Mode:          h.Mode,
		Network:       h.Network,
		UptimeSeconds: max(0, int64(time.Since(h.StartedAt).Seconds())),
		PolicyVersion: snap.Version,
		Paused:        snap.Paused,
		OpenPositions: h.book.Count(),
	}
}

// GetStatus responds with the current status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Current())
}
