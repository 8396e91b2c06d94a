package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allocbatch/internal/balancer"
	"allocbatch/internal/batcher"
	"allocbatch/internal/jsonrpc"
	"allocbatch/internal/upstream"
)

func newHTTPTransport(t *testing.T, urls ...string) *HTTPTransport {
	t.Helper()
	endpoints := make([]*upstream.Endpoint, 0, len(urls))
	for i, u := range urls {
		endpoints = append(endpoints, upstream.NewEndpoint(upstream.Config{
			Name:           string(rune('a' + i)),
			URL:            u,
			Weight:         1,
			Role:           upstream.RoleMain,
			AuthToken:      "token",
			RequestTimeout: time.Second,
			Logger:         zerolog.Nop(),
		}))
	}
	pool := upstream.NewPoolFromEndpoints(endpoints, zerolog.Nop())
	return NewHTTPTransport(balancer.NewWeightedRoundRobin(pool), zerolog.Nop())
}

func newLedgerServer(t *testing.T, floor int64) (*MemoryLedger, *httptest.Server) {
	t.Helper()
	m, err := NewMemoryLedger(floor, 0)
	require.NoError(t, err)
	srv := httptest.NewServer(NewRPCHandler(m, "token", 0, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return m, srv
}

func TestHTTPTransport_RoundTrip(t *testing.T) {
	m, srv := newLedgerServer(t, 0)
	m.Seed("b", 10)
	tr := newHTTPTransport(t, srv.URL)

	results, err := tr.Send(context.Background(), []batcher.Entry{
		{TargetKey: "a", NetDeltaCents: 300, CommitID: "c1", Sources: []string{"slider"}},
		{TargetKey: "b", NetDeltaCents: -50, CommitID: "c2"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "a", results[0].TargetKey)
	assert.Equal(t, int64(300), results[0].AllocatedCents)

	assert.ErrorIs(t, results[1].Err, ErrInsufficientBalance)
	assert.ErrorIs(t, results[1].Err, batcher.ErrRejected)

	// the same commit is not applied twice
	results, err = tr.Send(context.Background(), []batcher.Entry{
		{TargetKey: "a", NetDeltaCents: 300, CommitID: "c1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(300), results[0].AllocatedCents)
}

func TestHTTPTransport_FailsOverOnServerError(t *testing.T) {
	var badHits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	_, good := newLedgerServer(t, 0)

	tr := newHTTPTransport(t, bad.URL, good.URL)
	for i := 0; i < 2; i++ {
		results, err := tr.Send(context.Background(), []batcher.Entry{
			{TargetKey: "a", NetDeltaCents: 1, CommitID: "c" + string(rune('0'+i))},
		})
		require.NoError(t, err)
		assert.NoError(t, results[0].Err)
	}
	assert.Equal(t, int32(1), badHits.Load())
}

func TestHTTPTransport_AllEndpointsDown(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	tr := newHTTPTransport(t, bad.URL)
	_, err := tr.Send(context.Background(), []batcher.Entry{{TargetKey: "a", NetDeltaCents: 1, CommitID: "c1"}})
	require.Error(t, err)
	assert.True(t, batcher.IsRetryable(err))

	var te *batcher.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "502", te.Code)
}

func TestHTTPTransport_Unauthorized(t *testing.T) {
	_, srv := newLedgerServer(t, 0)

	wrong := upstream.NewEndpoint(upstream.Config{
		Name: "wrong", URL: srv.URL, Weight: 1, Role: upstream.RoleMain, Logger: zerolog.Nop(),
	})
	tr := NewHTTPTransport(balancer.NewWeightedRoundRobin(
		upstream.NewPoolFromEndpoints([]*upstream.Endpoint{wrong}, zerolog.Nop())), zerolog.Nop())

	_, err := tr.Send(context.Background(), []batcher.Entry{{TargetKey: "a", NetDeltaCents: 1, CommitID: "c1"}})
	require.Error(t, err)
	assert.False(t, batcher.IsRetryable(err))
	assert.ErrorIs(t, err, batcher.ErrRejected)
}

func TestHTTPTransport_NoEndpoints(t *testing.T) {
	tr := newHTTPTransport(t)
	_, err := tr.Send(context.Background(), []batcher.Entry{{TargetKey: "a", NetDeltaCents: 1, CommitID: "c1"}})
	assert.ErrorIs(t, err, ErrNoEndpoints)
	assert.True(t, batcher.IsRetryable(err))
}

func TestHTTPTransport_MissingResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []*jsonrpc.Request
		_ = json.NewDecoder(r.Body).Decode(&reqs)
		resp, _ := jsonrpc.NewResponse(reqs[0].ID, ApplyResult{TargetKey: "a", AllocatedCents: 1})
		_ = json.NewEncoder(w).Encode([]*jsonrpc.Response{resp})
	}))
	defer srv.Close()

	tr := newHTTPTransport(t, srv.URL)
	results, err := tr.Send(context.Background(), []batcher.Entry{
		{TargetKey: "a", NetDeltaCents: 1, CommitID: "c1"},
		{TargetKey: "b", NetDeltaCents: 1, CommitID: "c2"},
	})
	require.NoError(t, err)
	assert.NoError(t, results[0].Err)
	assert.True(t, batcher.IsRetryable(results[1].Err))
	assert.Equal(t, "b", results[1].TargetKey)
}

func TestClassifyRPC(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{jsonrpc.CodeInsufficientBalance, false},
		{jsonrpc.CodeUnauthorized, false},
		{jsonrpc.CodeInvalidParams, false},
		{jsonrpc.CodeUnknownTarget, false},
		{jsonrpc.CodeInternalError, true},
		{jsonrpc.CodeUnavailable, true},
		{jsonrpc.CodeServerError, true},
	}
	for _, tt := range tests {
		err := classifyRPC(jsonrpc.NewError(tt.code, "x"))
		assert.Equal(t, tt.retryable, batcher.IsRetryable(err), "code %d", tt.code)
	}
}

func TestRPCHandler(t *testing.T) {
	_, srv := newLedgerServer(t, 0)

	post := func(body, token string) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := post(`{"jsonrpc":"2.0","method":"ledger_ping","id":1}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = post(`{"jsonrpc":"2.0","method":"ledger_ping","id":1}`, "token")
	var single jsonrpc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&single))
	resp.Body.Close()
	assert.False(t, single.HasError())

	resp = post(`[{"jsonrpc":"2.0","method":"nope","id":1},{"jsonrpc":"2.0","method":"ledger_applyAllocationDelta","params":{"targetKey":"x"},"id":2},{"jsonrpc":"2.0","method":"ledger_getAllocation","params":{"targetKey":"x"},"id":3}]`, "token")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var batch []*jsonrpc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&batch))
	resp.Body.Close()
	require.Len(t, batch, 3)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, batch[0].Error.Code)
	assert.Equal(t, jsonrpc.CodeInvalidParams, batch[1].Error.Code)
	assert.Equal(t, jsonrpc.CodeUnknownTarget, batch[2].Error.Code)

	resp = post(`[{"jsonrpc":"2.0","method":"ledger_ping"}]`, "token")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = post(`{not json`, "token")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&single))
	resp.Body.Close()
	assert.Equal(t, jsonrpc.CodeParseError, single.Error.Code)
}

func TestHTTPTransport_Balance(t *testing.T) {
	m, srv := newLedgerServer(t, 0)
	m.Seed("a", 42)
	tr := newHTTPTransport(t, srv.URL)

	cents, err := tr.Balance(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int64(42), cents)

	_, err = tr.Balance(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}
