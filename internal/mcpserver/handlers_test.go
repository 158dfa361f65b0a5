package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:   ts.URL,
		APIKey:   "sk_test_key",
		Identity: "0xpayer",
	}
	client := NewClearholdClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func escrowJSON(overrides map[string]any) map[string]any {
	e := map[string]any{
		"id":        "esc_123",
		"payer":     "0xpayer",
		"payee":     "0xpayee",
		"asset":     "native",
		"amount":    "100.000000",
		"feeAmount": "1.000000",
		"status":    "created",
		"createdAt": "2026-01-02T15:04:05Z",
	}
	for k, v := range overrides {
		e[k] = v
	}
	return e
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClearholdClient(Config{APIURL: ts.URL, APIKey: "sk_secret123", Identity: "0xabc"})
	_, err := client.GetEscrow(context.Background(), "esc_1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "unauthorized: not a party to this escrow",
		})
	}))
	defer ts.Close()

	client := NewClearholdClient(Config{APIURL: ts.URL, APIKey: "bad", Identity: "0x1"})
	_, err := client.LockFunds(context.Background(), "esc_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "not a party")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewClearholdClient(Config{APIURL: ts.URL, APIKey: "k", Identity: "0x1"})
	_, err := client.GetEscrow(context.Background(), "esc_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewClearholdClient(Config{APIURL: "http://127.0.0.1:1", APIKey: "k", Identity: "0x1"})
	_, err := client.GetEscrow(context.Background(), "esc_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_CreateEscrow_Body(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(escrowJSON(nil))
	}))
	defer ts.Close()

	client := NewClearholdClient(Config{APIURL: ts.URL, APIKey: "k", Identity: "0xpayer"})
	_, err := client.CreateEscrow(context.Background(), "0xpayee", "100", "")
	require.NoError(t, err)
	assert.Equal(t, "/v1/escrows", gotPath)
	assert.Equal(t, "0xpayee", gotBody["payee"])
	assert.Equal(t, "100", gotBody["amount"])
	_, hasAsset := gotBody["asset"]
	assert.False(t, hasAsset, "empty asset should be omitted")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleCreateEscrow_Success(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(escrowJSON(map[string]any{
			"requiresMultiSig":  true,
			"multiSigThreshold": 2,
		}))
	}))
	defer cleanup()

	result, err := h.HandleCreateEscrow(context.Background(), makeRequest(map[string]any{
		"payee":  "0xpayee",
		"amount": "100",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "esc_123")
	assert.Contains(t, text, "needs 2 signatures")
	assert.Contains(t, text, "lock_funds")
}

func TestHandleCreateEscrow_MissingArgs(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no API call expected")
	}))
	defer cleanup()

	result, err := h.HandleCreateEscrow(context.Background(), makeRequest(map[string]any{
		"amount": "100",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "payee is required")
}

func TestHandleLockFunds(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_123/lock", r.URL.Path)
		_ = json.NewEncoder(w).Encode(escrowJSON(map[string]any{"status": "funds_locked"}))
	}))
	defer cleanup()

	result, err := h.HandleLockFunds(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_123",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "funds_locked")
}

func TestHandleLockFunds_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid state: cannot lock from funds_locked"})
	}))
	defer cleanup()

	result, err := h.HandleLockFunds(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_123",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "cannot lock")
}

func TestHandleConfirmDelivery_WithInfo(t *testing.T) {
	var gotBody map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		_ = json.NewEncoder(w).Encode(escrowJSON(map[string]any{"status": "delivery_confirmed"}))
	}))
	defer cleanup()

	result, err := h.HandleConfirmDelivery(context.Background(), makeRequest(map[string]any{
		"escrow_id":     "esc_123",
		"delivery_info": "tracking ABC123",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "tracking ABC123", gotBody["deliveryInfo"])
	assert.Contains(t, resultText(t, result), "Delivery confirmed")
}

func TestHandleOpenDispute(t *testing.T) {
	var gotBody map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		_ = json.NewEncoder(w).Encode(escrowJSON(map[string]any{
			"status":        "disputed",
			"disputeReason": "wrong item",
		}))
	}))
	defer cleanup()

	result, err := h.HandleOpenDispute(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_123",
		"reason":    "wrong item",
		"bond":      "5",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "wrong item", gotBody["reason"])
	assert.Equal(t, "5", gotBody["bond"])
	assert.Contains(t, resultText(t, result), "reputation-weighted voting")
}

func TestHandleOpenDispute_MissingReason(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no API call expected")
	}))
	defer cleanup()

	result, err := h.HandleOpenDispute(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_123",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "reason is required")
}

func TestHandleCastVote_NotDecisive(t *testing.T) {
	var gotBody map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		_ = json.NewEncoder(w).Encode(escrowJSON(map[string]any{
			"status":        "disputed",
			"votesForPayer": 10,
			"votesForPayee": 4,
		}))
	}))
	defer cleanup()

	result, err := h.HandleCastVote(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_123",
		"for_payer": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, true, gotBody["forPayer"])

	text := resultText(t, result)
	assert.Contains(t, text, "10 for payer, 4 for payee")
	assert.Contains(t, text, "No decisive majority yet")
}

func TestHandleCastVote_Decisive(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(escrowJSON(map[string]any{
			"status":         "resolved_payer_wins",
			"votesForPayer":  90,
			"votesForPayee":  4,
			"outcome":        "payer_wins",
			"resolutionPath": "dispute",
		}))
	}))
	defer cleanup()

	result, err := h.HandleCastVote(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_123",
		"for_payer": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Decisive! Dispute resolved: payer_wins")
}

func TestHandleSignRelease_QuorumProgress(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_123/signatures", r.URL.Path)
		_ = json.NewEncoder(w).Encode(escrowJSON(map[string]any{
			"status":            "delivery_confirmed",
			"requiresMultiSig":  true,
			"multiSigThreshold": 2,
			"signers":           []string{"0xpayer"},
		}))
	}))
	defer cleanup()

	result, err := h.HandleSignRelease(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_123",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Signatures: 1 of 2")
}

func TestHandleEscrowStatus(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_123", r.URL.Path)
		_ = json.NewEncoder(w).Encode(escrowJSON(map[string]any{
			"status":         "resolved_payee_wins",
			"outcome":        "payee_wins",
			"resolutionPath": "approval",
			"resolvedAt":     "2026-01-03T10:00:00Z",
		}))
	}))
	defer cleanup()

	result, err := h.HandleEscrowStatus(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_123",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Status: resolved_payee_wins")
	assert.Contains(t, text, "payee_wins via approval")
}

func TestHandleListEscrows_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"escrows": []any{}, "count": 0})
	}))
	defer cleanup()

	result, err := h.HandleListEscrows(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No escrows found")
}

func TestHandleListEscrows(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"escrows": []any{
				escrowJSON(nil),
				escrowJSON(map[string]any{"id": "esc_456", "status": "funds_locked"}),
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleListEscrows(context.Background(), makeRequest(map[string]any{
		"limit": 5,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 escrow(s)")
	assert.Contains(t, text, "esc_456 [funds_locked]")
}

func TestHandleGetReputation(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reputation/0xvoter", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"identity": "0xvoter", "score": 42})
	}))
	defer cleanup()

	result, err := h.HandleGetReputation(context.Background(), makeRequest(map[string]any{
		"address": "0xvoter",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "42")
}

func TestHandleReleaseTimeLock_NotExpired(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "time lock has not expired"})
	}))
	defer cleanup()

	result, err := h.HandleReleaseTimeLock(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_123",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not expired")
}
