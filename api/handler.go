// Package api exposes an admission-control engine over HTTP, for callers
// that cannot embed the library: check decisions, client state, engine
// stats and decision metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yourusername/floodgate/metrics"
	"github.com/yourusername/floodgate/pkg/floodgate"
)

// Handler serves the admission API for one engine.
type Handler struct {
	limiter   floodgate.Limiter
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewHandler creates a handler. collector and logger may be nil.
func NewHandler(limiter floodgate.Limiter, collector *metrics.Collector, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{limiter: limiter, collector: collector, logger: logger}
}

// Routes mounts the API under /v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/check", h.check)
		r.Get("/clients/{key}", h.describeClient)
		r.Get("/stats", h.stats)
		r.Get("/metrics", h.metrics)
		r.Post("/reset", h.reset)
	})
	return r
}

// CheckRequest is the body of POST /v1/check.
type CheckRequest struct {
	// ClientID identifies the client, e.g. a user id, API key or IP
	ClientID string `json:"client_id"`

	// Cost is the amount to consume. Omitted or zero-valued means the
	// engine's default cost.
	Cost *float64 `json:"cost,omitempty"`
}

// CheckResponse is the decision for one check.
type CheckResponse struct {
	Allowed      bool   `json:"allowed"`
	Limit        int64  `json:"limit"`
	Remaining    int64  `json:"remaining"`
	ResetAt      int64  `json:"reset_at"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
	Algorithm    string `json:"algorithm"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ClientID == "" {
		h.sendError(w, http.StatusBadRequest, "missing_client_id", "client_id is required")
		return
	}

	var decision *floodgate.Decision
	var err error
	if req.Cost != nil {
		decision, err = h.limiter.CheckN(req.ClientID, *req.Cost)
	} else {
		decision, err = h.limiter.Check(req.ClientID)
	}
	if err != nil {
		if errors.Is(err, floodgate.ErrInvalidCost) || errors.Is(err, floodgate.ErrInvalidKey) {
			h.sendError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.logger.Error("check failed", zap.String("client_id", req.ClientID), zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "internal_error", "check failed")
		return
	}

	if h.collector != nil {
		h.collector.Record(decision)
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
	}
	h.sendJSON(w, status, CheckResponse{
		Allowed:      decision.Allowed,
		Limit:        decision.Limit,
		Remaining:    decision.Remaining,
		ResetAt:      decision.ResetAt.Unix(),
		RetryAfterMs: decision.RetryAfter.Milliseconds(),
		Algorithm:    string(decision.Algorithm),
	})
}

func (h *Handler) describeClient(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	snapshot, ok := h.limiter.Describe(key)
	if !ok {
		h.sendError(w, http.StatusNotFound, "unknown_client", "no state for client")
		return
	}
	h.sendJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, h.limiter.Stats())
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		h.sendError(w, http.StatusNotFound, "metrics_disabled", "no metrics collector configured")
		return
	}
	h.sendJSON(w, http.StatusOK, h.collector.Snapshot())
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	h.limiter.Reset()
	h.logger.Info("engine reset via API")
	h.sendJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) sendError(w http.ResponseWriter, status int, code, message string) {
	h.sendJSON(w, status, errorResponse{Error: code, Message: message})
}
