package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clawtrust/internal/config"
	"clawtrust/internal/infra/cachemem"
	"clawtrust/internal/infra/canon"
	"clawtrust/internal/infra/ledgermem"
	"clawtrust/internal/infra/memstore"
	"clawtrust/internal/infra/policyarb"
	"clawtrust/internal/infra/ratelimit"
	"clawtrust/internal/usecase"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *ledgermem.Ledger) {
	t.Helper()

	ledger := ledgermem.New()
	settlements := memstore.NewSettlementStore(ledger)
	reputations := memstore.NewReputationStore()
	mandates := memstore.NewMandateStore()

	escrow := &usecase.EscrowEngine{
		Store:   settlements,
		Canon:   canon.Codec{},
		Arbiter: policyarb.NewStatic([]string{"arbiter-1"}),
	}
	reputation := &usecase.ReputationEngine{
		Store:    reputations,
		Cache:    cachemem.New(),
		CacheTTL: time.Minute,
	}
	coordinator := &usecase.MandateCoordinator{
		Escrow:     escrow,
		Reputation: reputation,
		Mandates:   mandates,
	}

	var limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})

	srv := NewServer(cfg, ServerDeps{
		Coordinator: coordinator,
		Reputation:  reputation,
		Ledger:      ledger,
		Minter:      ledger,
		RateLimiter: limiter,
	})
	return srv, ledger
}

func baseConfig() config.Config {
	return config.Config{
		HTTPAddr:             ":0",
		AdminAPIKey:          "test-admin-key",
		DefaultReleasePolicy: "require_delivery",
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func asRenter(extra ...string) map[string]string {
	h := map[string]string{"X-Agent-Address": "renter-1"}
	for i := 0; i+1 < len(extra); i += 2 {
		h[extra[i]] = extra[i+1]
	}
	return h
}

func TestAgreementLifecycleOverHTTP(t *testing.T) {
	srv, ledger := newTestServer(t, baseConfig())
	h := srv.Handler()
	if _, err := ledger.Mint(context.Background(), "renter-1", 2_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	deadline := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	rec := doJSON(t, h, http.MethodPost, "/v1/agreements", map[string]any{
		"provider": "provider-1",
		"renter":   "renter-1",
		"skill":    "translation",
		"amount":   1_000_000,
		"deadline": deadline,
	}, asRenter())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("create: missing agreement id")
	}
	if created["state"] != "created" {
		t.Fatalf("create: state = %v", created["state"])
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/agreements/"+id+"/fund", map[string]any{"amount": 1_000_000}, asRenter())
	if rec.Code != http.StatusOK {
		t.Fatalf("fund: got %d body %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["state"] != "funded" {
		t.Fatal("fund: expected funded state")
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/agreements/"+id+"/deliver", map[string]any{
		"deliverable_hash": "abc123",
	}, map[string]string{"X-Agent-Address": "provider-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("deliver: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/agreements/"+id+"/release", map[string]any{"rating": 5}, asRenter())
	if rec.Code != http.StatusOK {
		t.Fatalf("release: got %d body %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["state"] != "released" {
		t.Fatal("release: expected released state")
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/agents/provider-1/balance", nil, map[string]string{"X-Agent-Address": "provider-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: got %d body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["balance"]; got != float64(1_000_000) {
		t.Fatalf("balance: got %v", got)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/agents/provider-1/reputation", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reputation: got %d body %s", rec.Code, rec.Body.String())
	}
	rep := decodeBody(t, rec)
	if rep["score"] != float64(90) {
		t.Fatalf("reputation: score = %v", rep["score"])
	}
	if rep["tier"] != "elite" {
		t.Fatalf("reputation: tier = %v", rep["tier"])
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/agreements/"+id+"/events", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events: got %d body %s", rec.Code, rec.Body.String())
	}
	events, _ := decodeBody(t, rec)["events"].([]any)
	if len(events) != 4 {
		t.Fatalf("events: got %d, want 4", len(events))
	}
}

func TestMandateLifecycleOverHTTP(t *testing.T) {
	srv, ledger := newTestServer(t, baseConfig())
	h := srv.Handler()
	if _, err := ledger.Mint(context.Background(), "renter-1", 500_000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	deadline := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	rec := doJSON(t, h, http.MethodPost, "/v1/mandates", map[string]any{
		"provider":     "provider-1",
		"renter":       "renter-1",
		"skill":        "image-labeling",
		"amount":       500_000,
		"deadline":     deadline,
		"metadata_uri": "ipfs://example",
	}, asRenter())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create mandate: got %d body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	mandate, _ := body["mandate"].(map[string]any)
	agreement, _ := body["agreement"].(map[string]any)
	if mandate == nil || agreement == nil {
		t.Fatalf("create mandate: body %s", rec.Body.String())
	}
	if mandate["status"] != "pending" {
		t.Fatalf("mandate status = %v", mandate["status"])
	}
	agreementID, _ := agreement["id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/v1/agreements/"+agreementID+"/fund", map[string]any{"amount": 500_000}, asRenter())
	if rec.Code != http.StatusOK {
		t.Fatalf("fund: got %d body %s", rec.Code, rec.Body.String())
	}

	mandateID, _ := mandate["id"].(string)
	rec = doJSON(t, h, http.MethodGet, "/v1/mandates/"+mandateID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get mandate: got %d body %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["status"] != "funded" {
		t.Fatal("mandate should track the funded state")
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/mandates?status=funded", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list mandates: got %d", rec.Code)
	}
	listed, _ := decodeBody(t, rec)["mandates"].([]any)
	if len(listed) != 1 {
		t.Fatalf("list mandates: got %d, want 1", len(listed))
	}
}

func TestErrorMapping(t *testing.T) {
	srv, ledger := newTestServer(t, baseConfig())
	h := srv.Handler()
	if _, err := ledger.Mint(context.Background(), "renter-1", 2_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	deadline := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	rec := doJSON(t, h, http.MethodPost, "/v1/agreements", map[string]any{
		"provider": "provider-1",
		"renter":   "renter-1",
		"skill":    "translation",
		"amount":   1_000_000,
		"deadline": deadline,
	}, asRenter())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d body %s", rec.Code, rec.Body.String())
	}
	id := decodeBody(t, rec)["id"].(string)

	cases := []struct {
		name     string
		method   string
		path     string
		body     any
		headers  map[string]string
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing identity",
			method:   http.MethodPost,
			path:     "/v1/agreements/" + id + "/fund",
			body:     map[string]any{"amount": 1_000_000},
			wantCode: http.StatusUnauthorized,
			wantErr:  "UNAUTHORIZED",
		},
		{
			name:     "amount mismatch",
			method:   http.MethodPost,
			path:     "/v1/agreements/" + id + "/fund",
			body:     map[string]any{"amount": 42},
			headers:  asRenter(),
			wantCode: http.StatusBadRequest,
			wantErr:  "AMOUNT_MISMATCH",
		},
		{
			name:     "release before delivery",
			method:   http.MethodPost,
			path:     "/v1/agreements/" + id + "/release",
			body:     nil,
			headers:  asRenter(),
			wantCode: http.StatusConflict,
			wantErr:  "STATE_ERROR",
		},
		{
			name:     "unknown agreement",
			method:   http.MethodGet,
			path:     "/v1/agreements/nonexistent",
			wantCode: http.StatusNotFound,
			wantErr:  "NOT_FOUND",
		},
		{
			name:     "creator must be the renter",
			method:   http.MethodPost,
			path:     "/v1/agreements",
			body:     map[string]any{"provider": "provider-1", "renter": "someone-else", "skill": "x", "amount": 1, "deadline": deadline},
			headers:  asRenter(),
			wantCode: http.StatusUnauthorized,
			wantErr:  "UNAUTHORIZED",
		},
		{
			name:     "bad deadline",
			method:   http.MethodPost,
			path:     "/v1/agreements",
			body:     map[string]any{"provider": "provider-1", "renter": "renter-1", "skill": "x", "amount": 1, "deadline": "tomorrow"},
			headers:  asRenter(),
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_TERMS",
		},
		{
			name:     "unknown route",
			method:   http.MethodGet,
			path:     "/v1/nope",
			wantCode: http.StatusNotFound,
			wantErr:  "NOT_FOUND",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, tc.method, tc.path, tc.body, tc.headers)
			if rec.Code != tc.wantCode {
				t.Fatalf("got %d body %s, want %d", rec.Code, rec.Body.String(), tc.wantCode)
			}
			if got := decodeBody(t, rec)["code"]; got != tc.wantErr {
				t.Fatalf("code = %v, want %s", got, tc.wantErr)
			}
		})
	}
}

func TestAdminMint(t *testing.T) {
	srv, _ := newTestServer(t, baseConfig())
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/admin/accounts/renter-9/mint", map[string]any{"amount": 1000}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("mint without key: got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/admin/accounts/renter-9/mint", map[string]any{"amount": 1000}, map[string]string{
		"X-Admin-Key": "test-admin-key",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("mint with key: got %d body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["balance"]; got != float64(1000) {
		t.Fatalf("balance = %v", got)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/agents/renter-9/balance", nil, map[string]string{
		"X-Admin-Key": "test-admin-key",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin balance read: got %d", rec.Code)
	}
}

func TestBalanceReadRequiresOwnerOrAdmin(t *testing.T) {
	srv, _ := newTestServer(t, baseConfig())
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/agents/renter-1/balance", nil, map[string]string{"X-Agent-Address": "snoop-1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403", rec.Code)
	}
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	cfg := baseConfig()
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindowSeconds = 60
	srv, ledger := newTestServer(t, cfg)
	h := srv.Handler()
	if _, err := ledger.Mint(context.Background(), "renter-1", 10_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	deadline := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	create := func(n int) *httptest.ResponseRecorder {
		return doJSON(t, h, http.MethodPost, "/v1/agreements", map[string]any{
			"provider": "provider-1",
			"renter":   "renter-1",
			"skill":    "translation",
			"amount":   100,
			"deadline": deadline,
			"nonce":    fmt.Sprintf("n-%d", n),
		}, asRenter())
	}

	for i := 0; i < 2; i++ {
		rec := create(i)
		if rec.Code != http.StatusCreated {
			t.Fatalf("request %d: got %d body %s", i, rec.Code, rec.Body.String())
		}
		if rec.Header().Get("RateLimit-Limit") != "2" {
			t.Fatalf("request %d: RateLimit-Limit = %q", i, rec.Header().Get("RateLimit-Limit"))
		}
	}

	rec := create(2)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429", rec.Code)
	}
	if got := decodeBody(t, rec)["code"]; got != "RATE_LIMITED" {
		t.Fatalf("code = %v", got)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on rejection")
	}
	if rec.Header().Get("RateLimit-Remaining") != "0" {
		t.Fatalf("RateLimit-Remaining = %q", rec.Header().Get("RateLimit-Remaining"))
	}
}

func TestReputationReadRateLimitKeysOnCaller(t *testing.T) {
	cfg := baseConfig()
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindowSeconds = 60
	srv, _ := newTestServer(t, cfg)
	h := srv.Handler()

	// Anonymous reads share one window per client regardless of the
	// address being queried.
	for i, target := range []string{"agent-a", "agent-b"} {
		rec := doJSON(t, h, http.MethodGet, "/v1/agents/"+target+"/reputation", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("anonymous read %d: got %d body %s", i, rec.Code, rec.Body.String())
		}
	}
	rec := doJSON(t, h, http.MethodGet, "/v1/agents/agent-c/reputation", nil, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third anonymous read: got %d, want 429", rec.Code)
	}

	// An identified caller has its own window; reading an address the
	// anonymous client already queried must not be throttled.
	rec = doJSON(t, h, http.MethodGet, "/v1/agents/agent-a/reputation", nil, map[string]string{
		"X-Agent-Address": "reader-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("identified read: got %d body %s", rec.Code, rec.Body.String())
	}
}
