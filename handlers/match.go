package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ranked1v1/matchcore/metrics"
	"github.com/ranked1v1/matchcore/models"
	"github.com/ranked1v1/matchcore/session"
)

// MatchHandler serves the matchmaking HTTP surface of spec §6, delegating
// all domain logic to the Session Facade.
type MatchHandler struct {
	facade  *session.Facade
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewMatchHandler(facade *session.Facade, m *metrics.Metrics, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{facade: facade, metrics: m, logger: logger}
}

type matchRequest struct {
	UserID int `json:"user_id"`
}

// RequestMatch handles POST /match.
func (h *MatchHandler) RequestMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, err)
		return
	}

	result, err := h.facade.RequestMatch(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	switch result.Status {
	case models.TicketMatched:
		h.metrics.MatchesFormed.Inc()
		_ = writeJSON(w, http.StatusOK, jsonResponse{"status": "matched", "match_id": *result.MatchID})
	case models.TicketCancelled:
		_ = writeJSON(w, http.StatusOK, jsonResponse{"status": "cancelled"})
	default:
		_ = writeJSON(w, http.StatusOK, jsonResponse{"status": "expired"})
	}
}

// StreamMatch handles POST /match/stream, an SSE stream of matchmaking
// progress terminated by the same terminal event a blocking call returns.
func (h *MatchHandler) StreamMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(event session.Event) error {
		payload, err := json.Marshal(sseEvent(event))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.facade.StreamMatch(r.Context(), req.UserID, emit); err != nil {
		h.logger.Error("stream match failed", slog.Any("error", err), slog.Int("user_id", req.UserID))
	}
}

func sseEvent(e session.Event) jsonResponse {
	out := jsonResponse{"type": string(e.Type)}
	switch e.Type {
	case session.EventSearching:
		out["threshold"] = e.Threshold
		out["candidates"] = e.Candidates
		out["waited"] = e.Waited
	case session.EventQueued:
		out["queue_size"] = e.QueueSize
	case session.EventMatched:
		out["match_id"] = *e.MatchID
	}
	return out
}

type startMatchRequest struct {
	UserA int `json:"user_a"`
	UserB int `json:"user_b"`
}

// StartMatch handles POST /match/start.
func (h *MatchHandler) StartMatch(w http.ResponseWriter, r *http.Request) {
	var req startMatchRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, err)
		return
	}

	match, err := h.facade.StartMatch(r.Context(), req.UserA, req.UserB)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, jsonResponse{"match_id": match.ID})
}

type finishMatchRequest struct {
	MatchID int   `json:"match_id"`
	Score   [2]int `json:"score"`
}

// FinishMatch handles POST /match/finish.
func (h *MatchHandler) FinishMatch(w http.ResponseWriter, r *http.Request) {
	var req finishMatchRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, err)
		return
	}

	result, err := h.facade.FinishMatch(r.Context(), req.MatchID, req.Score[0], req.Score[1])
	if err != nil {
		writeError(w, err)
		return
	}

	delta := result.RatingAfterA - result.RatingBeforeA
	if delta < 0 {
		delta = -delta
	}
	h.metrics.RatingDelta.Observe(float64(delta))

	_ = writeJSON(w, http.StatusOK, jsonResponse{
		"rating_before": [2]int{result.RatingBeforeA, result.RatingBeforeB},
		"rating_after":  [2]int{result.RatingAfterA, result.RatingAfterB},
	})
}

// CancelMatch handles GET /match/cancel/{match_id}.
func (h *MatchHandler) CancelMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := parseIDParam(r, "match_id")
	if err != nil {
		badRequestResponse(w, err)
		return
	}

	if err := h.facade.CancelMatch(r.Context(), matchID); err != nil {
		writeError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, jsonResponse{"ok": true})
}

// Health handles GET /api/health.
func (h *MatchHandler) Health(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, jsonResponse{"ok": true})
}

func parseIDParam(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return id, nil
}
