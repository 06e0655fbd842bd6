package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/receiptgate/internal/derive"
	"github.com/hazyhaar/receiptgate/internal/ledger"
	"github.com/hazyhaar/receiptgate/internal/store"
	"github.com/hazyhaar/receiptgate/internal/validate"
)

const testTenant = "tenant-1"

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite:///:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	schema, err := validate.CompileDefault()
	require.NoError(t, err)

	srv := &Server{
		Ledger:     ledger.NewLedger(st, schema, testTenant, validate.DefaultMaxBodyBytes, true),
		Derive:     derive.New(st, testTenant),
		Service:    "receiptgate",
		Version:    "test",
		InstanceID: "test-instance",
		Ping:       func(ctx context.Context) error { return st.DB.PingContext(ctx) },
	}
	return srv, st
}

func rpcCall(t *testing.T, handler http.Handler, method string, params any) response {
	t.Helper()
	paramsRaw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  json.RawMessage(paramsRaw),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSubmitReceiptToolGoldenPath(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := NewRouter(srv, "test-key", false)

	resp := rpcCall(t, handler, "receiptgate.submit_receipt", map[string]any{
		"receipt": map[string]any{
			"receipt_id":    "r1",
			"phase":         "accepted",
			"obligation_id": "obl1",
			"created_by":    "agent-a",
			"recipient_ai":  "agent-b",
			"body":          map[string]string{"note": "hello"},
		},
	})
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestSubmitReceiptToolConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := NewRouter(srv, "test-key", false)

	receipt := map[string]any{
		"receipt_id":    "r1",
		"phase":         "accepted",
		"obligation_id": "obl1",
		"created_by":    "agent-a",
		"recipient_ai":  "agent-b",
		"body":          map[string]string{"note": "hello"},
	}
	first := rpcCall(t, handler, "receiptgate.submit_receipt", map[string]any{"receipt": receipt})
	require.Nil(t, first.Error)

	receipt2 := map[string]any{
		"receipt_id":    "r1",
		"phase":         "accepted",
		"obligation_id": "obl1",
		"created_by":    "agent-a",
		"recipient_ai":  "agent-c",
		"body":          map[string]string{"note": "different"},
	}
	second := rpcCall(t, handler, "receiptgate.submit_receipt", map[string]any{"receipt": receipt2})
	require.NotNil(t, second.Error)
	require.Equal(t, codeReceiptConflict, second.Error.Code)
}

func TestGetReceiptToolNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := NewRouter(srv, "test-key", false)

	resp := rpcCall(t, handler, "receiptgate.get_receipt", map[string]any{"receipt_id": "missing"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeNotFound, resp.Error.Code)

	raw, err := json.Marshal(resp.Error.Data)
	require.NoError(t, err)
	var data errorData
	require.NoError(t, json.Unmarshal(raw, &data))
	require.Equal(t, 404, data.HTTPStatus)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := NewRouter(srv, "test-key", false)

	resp := rpcCall(t, handler, "receiptgate.does_not_exist", map[string]any{})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestHealthToolReportsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := NewRouter(srv, "test-key", false)

	resp := rpcCall(t, handler, "receiptgate.health", map[string]any{})
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(raw, &status))
	require.Equal(t, "ok", status.Status)
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := NewRouter(srv, "test-key", false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMCPEndpointRejectsMissingAPIKey(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := NewRouter(srv, "test-key", false)

	body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "receiptgate.health"})
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMCPEndpointAllowsInsecureDev(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := NewRouter(srv, "", true)

	body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "receiptgate.health"})
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
