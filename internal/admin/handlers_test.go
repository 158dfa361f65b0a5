package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clearhold/clearhold/internal/amount"
	"github.com/clearhold/clearhold/internal/custody"
	"github.com/clearhold/clearhold/internal/escrow"
	"github.com/clearhold/clearhold/internal/reputation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminAddr = "0xadmin"

type fixture struct {
	svc    *escrow.Service
	rep    *reputation.LedgerService
	bank   *custody.MemoryBank
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	bank := custody.NewMemoryBank()
	rep := reputation.New(reputation.NewMemoryStore())
	params := escrow.Params{
		PlatformFeeBps:      100,
		HighValueThreshold:  "10000",
		MultiSigThreshold:   2,
		TimeLockDuration:    24 * time.Hour,
		EmergencyWindow:     48 * time.Hour,
		BondBps:             500,
		DecisiveMajorityBps: 1000,
	}
	svc := escrow.NewService(escrow.NewMemoryStore(), bank, rep, params,
		escrow.WithRoles(adminAddr, ""),
		escrow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	router := gin.New()
	NewHandler(svc, rep, adminAddr).RegisterRoutes(router.Group("/v1"))

	return &fixture{svc: svc, rep: rep, bank: bank, router: router}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// lockedEscrow creates an escrow with funds in the vault.
func (f *fixture) lockedEscrow(t *testing.T) *escrow.Escrow {
	t.Helper()
	ctx := context.Background()

	e, err := f.svc.Create(ctx, escrow.CreateRequest{
		Payer:  "0xpayer",
		Payee:  "0xpayee",
		Asset:  custody.AssetNative,
		Amount: "1000",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.bank.Mint(custody.AssetNative, "0xpayer", amount.MustParse("1010"))
	if _, err := f.svc.LockFunds(ctx, e.ID, "0xpayer"); err != nil {
		t.Fatalf("LockFunds: %v", err)
	}
	return e
}

func TestGetParams(t *testing.T) {
	f := newFixture(t)

	w := f.do("GET", "/v1/admin/params", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Params escrow.Params `json:"params"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Params.PlatformFeeBps != 100 {
		t.Errorf("platformFeeBps = %d, want 100", resp.Params.PlatformFeeBps)
	}
}

func TestUpdateParams_Partial(t *testing.T) {
	f := newFixture(t)

	w := f.do("PUT", "/v1/admin/params", map[string]any{
		"platformFeeBps":   250,
		"timeLockDuration": "48h",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	p := f.svc.Params()
	if p.PlatformFeeBps != 250 {
		t.Errorf("platformFeeBps = %d, want 250", p.PlatformFeeBps)
	}
	if p.TimeLockDuration != 48*time.Hour {
		t.Errorf("timeLockDuration = %s, want 48h", p.TimeLockDuration)
	}
	// Untouched fields survive.
	if p.BondBps != 500 {
		t.Errorf("bondBps = %d, want 500", p.BondBps)
	}
}

func TestUpdateParams_Rejected(t *testing.T) {
	f := newFixture(t)

	// Out of bounds fee.
	w := f.do("PUT", "/v1/admin/params", map[string]any{"platformFeeBps": 5000})
	if w.Code != http.StatusBadRequest {
		t.Errorf("out-of-bounds fee: status = %d, want 400", w.Code)
	}

	// Unparseable duration.
	w = f.do("PUT", "/v1/admin/params", map[string]any{"timeLockDuration": "soon"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad duration: status = %d, want 400", w.Code)
	}

	// Nothing was applied.
	if p := f.svc.Params(); p.PlatformFeeBps != 100 {
		t.Errorf("platformFeeBps = %d, want unchanged 100", p.PlatformFeeBps)
	}
}

func TestEmergencyRefund(t *testing.T) {
	f := newFixture(t)
	e := f.lockedEscrow(t)

	w := f.do("POST", "/v1/admin/escrows/"+e.ID+"/emergency-refund", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	got, _ := f.svc.Get(context.Background(), e.ID)
	if got.Status != escrow.StatusPayerWins {
		t.Errorf("status = %s, want %s", got.Status, escrow.StatusPayerWins)
	}
	if got.ResolutionPath != escrow.PathEmergency {
		t.Errorf("path = %s, want %s", got.ResolutionPath, escrow.PathEmergency)
	}

	// Second refund conflicts.
	w = f.do("POST", "/v1/admin/escrows/"+e.ID+"/emergency-refund", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("repeat refund: status = %d, want 409", w.Code)
	}
}

func TestEmergencyRefund_NotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do("POST", "/v1/admin/escrows/esc_999/emergency-refund", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRetryPayout_NotTerminal(t *testing.T) {
	f := newFixture(t)
	e := f.lockedEscrow(t)

	w := f.do("POST", "/v1/admin/escrows/"+e.ID+"/retry-payout", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestListStuckPayouts_Empty(t *testing.T) {
	f := newFixture(t)

	w := f.do("GET", "/v1/admin/payouts/stuck", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 0 {
		t.Errorf("count = %d, want 0", resp.Count)
	}
}

func TestReputationSeedingAndListing(t *testing.T) {
	f := newFixture(t)

	w := f.do("POST", "/v1/admin/reputation/0xVoter1/adjust", map[string]any{"delta": 50})
	if w.Code != http.StatusOK {
		t.Fatalf("adjust: status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Identity string `json:"identity"`
		Score    uint64 `json:"score"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Identity != "0xvoter1" || resp.Score != 50 {
		t.Errorf("adjust response = %+v", resp)
	}

	// Zero delta rejected.
	w = f.do("POST", "/v1/admin/reputation/0xvoter1/adjust", map[string]any{"delta": 0})
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero delta: status = %d, want 400", w.Code)
	}

	w = f.do("GET", "/v1/admin/reputation", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want 200", w.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 1 {
		t.Errorf("list count = %d, want 1", list.Count)
	}
}
