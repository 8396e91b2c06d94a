package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"allocbatch/internal/balancer"
	"allocbatch/internal/batcher"
	"allocbatch/internal/jsonrpc"
	"allocbatch/internal/upstream"
)

// ErrNoEndpoints is returned when every endpoint is unhealthy, tripped or already tried
var ErrNoEndpoints = errors.New("no ledger endpoints available")

// HTTPTransport sends each batch as one JSON-RPC batch call. When an endpoint
// fails with a retryable error the same call is tried on the next endpoint;
// commit IDs make the repeat safe.
type HTTPTransport struct {
	selector balancer.Selector
	logger   zerolog.Logger
}

// NewHTTPTransport creates a transport over the endpoints chosen by selector
func NewHTTPTransport(selector balancer.Selector, logger zerolog.Logger) *HTTPTransport {
	return &HTTPTransport{
		selector: selector,
		logger:   logger.With().Str("component", "ledger-http").Logger(),
	}
}

// Send implements batcher.Transport
func (t *HTTPTransport) Send(ctx context.Context, entries []batcher.Entry) ([]batcher.EntryResult, error) {
	requests := make([]*jsonrpc.Request, len(entries))
	for i, e := range entries {
		req, err := jsonrpc.NewRequest(MethodApply, paramsFromEntry(e), jsonrpc.NewIDInt(int64(i+1)))
		if err != nil {
			return nil, batcher.Terminal("encode", err)
		}
		requests[i] = req
	}

	tried := make(map[string]bool)
	var lastErr error
	for {
		ep := t.selector.Next(tried)
		if ep == nil {
			break
		}
		tried[ep.Name()] = true

		responses, err := ep.Call(ctx, requests)
		if err == nil {
			return alignResponses(entries, requests, responses)
		}

		if ctx.Err() != nil {
			return nil, err
		}
		err = classifyCall(err)
		if !batcher.IsRetryable(err) {
			return nil, err
		}

		t.logger.Warn().
			Err(err).
			Str("endpoint", ep.Name()).
			Int("entries", len(entries)).
			Msg("ledger endpoint failed, trying next")
		lastErr = err
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, batcher.Retryable("no_endpoints", ErrNoEndpoints)
}

// Balance reads the confirmed allocation of one target from the first
// endpoint that answers
func (t *HTTPTransport) Balance(ctx context.Context, targetKey string) (int64, error) {
	req, err := jsonrpc.NewRequest(MethodGetBalance, BalanceParams{TargetKey: targetKey}, jsonrpc.NewIDInt(1))
	if err != nil {
		return 0, err
	}

	tried := make(map[string]bool)
	lastErr := error(ErrNoEndpoints)
	for ep := t.selector.Next(tried); ep != nil; ep = t.selector.Next(tried) {
		tried[ep.Name()] = true

		responses, err := ep.Call(ctx, []*jsonrpc.Request{req})
		if err != nil {
			lastErr = classifyCall(err)
			if ctx.Err() != nil || !batcher.IsRetryable(lastErr) {
				return 0, lastErr
			}
			continue
		}
		if len(responses) != 1 {
			return 0, fmt.Errorf("expected 1 response, got %d", len(responses))
		}
		if responses[0].HasError() {
			return 0, classifyRPC(responses[0].Error)
		}

		var res ApplyResult
		if err := responses[0].GetResultAs(&res); err != nil {
			return 0, err
		}
		return res.AllocatedCents, nil
	}
	return 0, lastErr
}

// alignResponses matches responses to entries by request ID
func alignResponses(entries []batcher.Entry, requests []*jsonrpc.Request, responses []*jsonrpc.Response) ([]batcher.EntryResult, error) {
	if len(responses) == 1 && responses[0].ID.IsNull() && responses[0].HasError() {
		return nil, classifyRPC(responses[0].Error)
	}

	byID := make(map[string]*jsonrpc.Response, len(responses))
	for _, resp := range responses {
		byID[resp.ID.Key()] = resp
	}

	results := make([]batcher.EntryResult, len(entries))
	for i, req := range requests {
		results[i].TargetKey = entries[i].TargetKey

		resp, ok := byID[req.ID.Key()]
		if !ok {
			results[i].Err = batcher.Retryable("missing_response",
				fmt.Errorf("no response for %s", entries[i].TargetKey))
			continue
		}
		if resp.HasError() {
			results[i].Err = classifyRPC(resp.Error)
			continue
		}

		var res ApplyResult
		if err := resp.GetResultAs(&res); err != nil {
			results[i].Err = batcher.Retryable("bad_result", err)
			continue
		}
		results[i].TargetKey = res.TargetKey
		results[i].AllocatedCents = res.AllocatedCents
	}
	return results, nil
}

// classifyCall decides whether a failed HTTP call may be retried
func classifyCall(err error) error {
	var httpErr *upstream.HTTPError
	if errors.As(err, &httpErr) {
		code := strconv.Itoa(httpErr.StatusCode)
		if httpErr.Temporary() {
			return batcher.Retryable(code, err)
		}
		return batcher.Terminal(code, err)
	}
	return batcher.Retryable("network", err)
}

// classifyRPC converts a JSON-RPC error, keeping the ledger sentinels matchable
func classifyRPC(e *jsonrpc.Error) error {
	var err error = e
	code := strconv.Itoa(e.Code)
	switch e.Code {
	case jsonrpc.CodeInsufficientBalance:
		code, err = "insufficient_balance", fmt.Errorf("%w: %s", ErrInsufficientBalance, e.Message)
	case jsonrpc.CodeUnknownTarget:
		code, err = "unknown_target", fmt.Errorf("%w: %s", ErrUnknownTarget, e.Message)
	case jsonrpc.CodeInvalidParams:
		code, err = "invalid_params", fmt.Errorf("%w: %s", ErrInvalidParams, e.Message)
	case jsonrpc.CodeUnauthorized:
		code = "unauthorized"
	}
	if e.IsRetryable() {
		return batcher.Retryable(code, err)
	}
	return batcher.Terminal(code, err)
}
