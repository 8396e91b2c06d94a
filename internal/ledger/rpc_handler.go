package ledger

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"allocbatch/internal/jsonrpc"
)

// RPCHandler serves a Ledger over JSON-RPC on HTTP
type RPCHandler struct {
	ledger      Ledger
	authToken   string
	maxBodySize int64
	logger      zerolog.Logger
}

// NewRPCHandler creates a handler. An empty authToken disables authentication.
func NewRPCHandler(l Ledger, authToken string, maxBodySize int64, logger zerolog.Logger) *RPCHandler {
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &RPCHandler{
		ledger:      l,
		authToken:   authToken,
		maxBodySize: maxBodySize,
		logger:      logger.With().Str("component", "ledger-rpc").Logger(),
	}
}

// ServeHTTP implements http.Handler
func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > h.maxBodySize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	requests, isBatch, err := jsonrpc.ParseBatchRequest(body)
	if err != nil {
		data, err := jsonrpc.NewErrorResponse(jsonrpc.NewIDNull(), jsonrpc.ErrParse).Bytes()
		h.write(w, data, err)
		return
	}

	responses := make([]*jsonrpc.Response, 0, len(requests))
	for _, req := range requests {
		resp := h.handle(r.Context(), req)
		if req.IsNotification() {
			continue
		}
		responses = append(responses, resp)
	}

	switch {
	case len(responses) == 0:
		w.WriteHeader(http.StatusNoContent)
	case isBatch:
		data, err := jsonrpc.MarshalBatchResponse(responses)
		h.write(w, data, err)
	default:
		data, err := responses[0].Bytes()
		h.write(w, data, err)
	}
}

func (h *RPCHandler) handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	if err := req.Validate(); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
	}

	var result interface{}
	switch req.Method {
	case MethodPing:
		result = "pong"

	case MethodApply:
		var p ApplyParams
		if err := req.DecodeParams(&p); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error()))
		}
		res, err := h.ledger.Apply(ctx, p)
		if err != nil {
			h.logger.Debug().Err(err).Str("targetKey", p.TargetKey).Str("commitId", p.CommitID).Msg("apply rejected")
			return jsonrpc.NewErrorResponse(req.ID, toRPCError(err))
		}
		result = res

	case MethodGetBalance:
		var p BalanceParams
		if err := req.DecodeParams(&p); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error()))
		}
		cents, err := h.ledger.Balance(ctx, p.TargetKey)
		if err != nil {
			return jsonrpc.NewErrorResponse(req.ID, toRPCError(err))
		}
		result = ApplyResult{TargetKey: p.TargetKey, AllocatedCents: cents}

	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrMethodNotFound)
	}

	resp, err := jsonrpc.NewResponse(req.ID, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal)
	}
	return resp
}

func (h *RPCHandler) authorized(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + h.authToken
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (h *RPCHandler) write(w http.ResponseWriter, data []byte, err error) {
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		h.logger.Debug().Err(err).Msg("failed to write response")
	}
}

func toRPCError(err error) *jsonrpc.Error {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return jsonrpc.NewError(jsonrpc.CodeInsufficientBalance, err.Error())
	case errors.Is(err, ErrUnknownTarget):
		return jsonrpc.NewError(jsonrpc.CodeUnknownTarget, err.Error())
	case errors.Is(err, ErrInvalidParams):
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return jsonrpc.NewError(jsonrpc.CodeUnavailable, err.Error())
	}
	return jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error())
}
