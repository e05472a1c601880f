package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/dexsniper/internal/service"
)

// Evaluator runs the admission filter on demand.
type Evaluator interface {
	Evaluate(ctx context.Context, tokenID string) (service.Evaluation, error)
}

// CandidateFeed lists recently discovered candidates.
type CandidateFeed interface {
	Latest(limit int) []service.Candidate
}

// CandidateHandler serves token evaluation and discovery results.
type CandidateHandler struct {
	evaluator Evaluator
	feed      CandidateFeed
	logger    *slog.Logger
}

// NewCandidateHandler creates a CandidateHandler. feed is nil when
// discovery is not running.
func NewCandidateHandler(evaluator Evaluator, feed CandidateFeed, logger *slog.Logger) *CandidateHandler {
	return &CandidateHandler{evaluator: evaluator, feed: feed, logger: logger.With(slog.String("handler", "candidates"))}
}

// Evaluate reports whether a token would be admitted right now. A rejection
// is a normal 200 response; only a bad token id is a client error.
// POST /api/candidates/evaluate {"token_id"}
func (h *CandidateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TokenID string `json:"token_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.TokenID) == "" {
		writeError(w, http.StatusBadRequest, "token_id is required")
		return
	}
	ev, err := h.evaluator.Evaluate(r.Context(), body.TokenID)
	if err != nil {
		h.logger.DebugContext(r.Context(), "handler: evaluation incomplete",
			slog.String("token", body.TokenID),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, ev)
}

// Latest returns recent discovery results, newest first.
// GET /api/discovery/latest?limit=
func (h *CandidateHandler) Latest(w http.ResponseWriter, r *http.Request) {
	candidates := []service.Candidate{}
	if h.feed != nil {
		candidates = append(candidates, h.feed.Latest(queryInt(r.URL.Query().Get("limit"), 20))...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}
