package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"allocbatch/internal/batcher"
	"allocbatch/internal/cache"
	"allocbatch/internal/ledger"
)

// IdempotencyHeader carries the client key for replay-safe submissions
const IdempotencyHeader = "Idempotency-Key"

// ReplayedHeader is set on responses served from the idempotency cache
const ReplayedHeader = "Idempotent-Replayed"

type submitRequest struct {
	TargetKey  string `json:"targetKey"`
	DeltaCents int64  `json:"deltaCents"`
	Priority   string `json:"priority,omitempty"`
	Source     string `json:"source,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status  string        `json:"status"`
	State   batcher.State `json:"state"`
	Pending int           `json:"pending"`
}

// Handler returns the HTTP API
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, s.cfg.GetMetricsPath(), s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.With(s.rateLimit).Post("/allocations", s.handleSubmit)
		r.Get("/allocations/{targetKey}", s.handleBalance)
		r.Get("/stats", s.handleStats)
		r.Post("/flush", s.handleFlush)
		r.Delete("/pending", s.handleClearPending)
		if s.hub != nil {
			r.Handle("/events", s.hub)
		}
	})

	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}

	priority, err := batcher.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_priority", err.Error())
		return
	}

	key := r.Header.Get(IdempotencyHeader)
	if key == "" {
		res, err := s.engine.Submit(r.Context(), req.TargetKey, req.DeltaCents, priority, req.Source)
		writeResponse(w, outcomeResponse(batcher.Outcome{Result: res, Err: err}))
		return
	}

	// The delta settles whether or not this request is still waiting, so
	// the keyed outcome comes from the engine rather than the request.
	start := func() <-chan cache.Response {
		settled := s.engine.SubmitAsync(req.TargetKey, req.DeltaCents, priority, req.Source)
		out := make(chan cache.Response, 1)
		go func() {
			out <- outcomeResponse(<-settled)
		}()
		return out
	}

	resp, replayed, err := s.idem.Do(r.Context(), key, start, cacheable)
	if err != nil {
		status, code := statusFor(err)
		writeError(w, status, code, err.Error())
		return
	}
	if replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	writeResponse(w, resp)
}

func outcomeResponse(out batcher.Outcome) cache.Response {
	if out.Err != nil {
		status, code := statusFor(out.Err)
		return encode(status, errorResponse{Error: out.Err.Error(), Code: code})
	}
	return encode(http.StatusOK, out.Result)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	targetKey := chi.URLParam(r, "targetKey")
	cents, err := s.backend.Balance(r.Context(), targetKey)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrUnknownTarget):
			writeError(w, http.StatusNotFound, "unknown_target", err.Error())
		case batcher.IsRetryable(err):
			writeError(w, http.StatusBadGateway, "ledger_unavailable", err.Error())
		default:
			writeError(w, http.StatusBadGateway, "ledger_error", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, ledger.ApplyResult{TargetKey: targetKey, AllocatedCents: cents})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	s.engine.Flush()
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "flushing"})
}

func (s *Server) handleClearPending(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearPending(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "cleared"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	resp := healthResponse{Status: "ok", State: stats.State, Pending: stats.PendingCount}
	status := http.StatusOK
	if s.closing.Load() {
		resp.Status = "closing"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// statusFor maps a settlement error to an HTTP status and error code
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, batcher.ErrInvalidDelta):
		return http.StatusBadRequest, "invalid_delta"
	case errors.Is(err, batcher.ErrExhausted):
		return http.StatusServiceUnavailable, "exhausted"
	case errors.Is(err, batcher.ErrRejected):
		return http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, batcher.ErrCleared):
		return http.StatusConflict, "cleared"
	case errors.Is(err, batcher.ErrAbandoned):
		return http.StatusConflict, "abandoned"
	case errors.Is(err, batcher.ErrClosed):
		return http.StatusServiceUnavailable, "closed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

// cacheable keeps final outcomes only; throttling, timeouts and server-side
// failures may succeed on a later attempt with the same key
func cacheable(resp cache.Response) bool {
	switch resp.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return resp.Status < 500
}

func encode(status int, v interface{}) cache.Response {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response","code":"internal"}`)
	}
	return cache.Response{Status: status, Body: body}
}

func writeResponse(w http.ResponseWriter, resp cache.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	writeResponse(w, encode(status, v))
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
