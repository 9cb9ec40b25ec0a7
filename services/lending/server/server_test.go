package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lendcore/crypto"
	"lendcore/integrations/eventstore"
	"lendcore/native/lending"
	"lendcore/services/lending/engine"
)

func do(t *testing.T, srv *Server, method, path, body, auth string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	rec := do(t, srv, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListMarketsIsPublic(t *testing.T) {
	eng := &fakeEngine{listMarkets: func(ctx context.Context) ([]engine.MarketView, error) {
		return []engine.MarketView{{Address: "m1", BorrowAPR: "0.050000"}}, nil
	}}
	srv := newTestServer(t, eng)
	rec := do(t, srv, http.MethodGet, "/api/v1/markets", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Markets []engine.MarketView `json:"markets"`
	}
	decodeBody(t, rec, &body)
	if len(body.Markets) != 1 || body.Markets[0].BorrowAPR != "0.050000" {
		t.Fatalf("unexpected markets %+v", body.Markets)
	}
}

func TestBorrowRequiresAuthentication(t *testing.T) {
	t.Parallel()

	alice := testAddr(0x01)
	var seen crypto.Address
	eng := &fakeEngine{borrow: func(ctx context.Context, market, to, amount string) (engine.BorrowView, error) {
		seen = senderOf(ctx)
		if market != "mkt" || amount != "100" || to != "" {
			return engine.BorrowView{}, fmt.Errorf("unexpected args %q %q %q", market, to, amount)
		}
		return engine.BorrowView{Part: "101", Share: "100"}, nil
	}}
	srv := newTestServer(t, eng)

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{name: "missing", auth: "", status: http.StatusUnauthorized},
		{name: "garbage", auth: "Bearer not-a-jwt", status: http.StatusUnauthorized},
		{name: "jwt", auth: bearer(t, alice), status: http.StatusOK},
		{name: "static token", auth: "Bearer static-token", status: http.StatusOK},
	}
	for _, tc := range tests {
		rec := do(t, srv, http.MethodPost, "/api/v1/markets/mkt/borrow", `{"value":"100"}`, tc.auth)
		if rec.Code != tc.status {
			t.Fatalf("%s: status = %d body=%s", tc.name, rec.Code, rec.Body.String())
		}
		if tc.name == "jwt" && seen != alice {
			t.Fatalf("engine saw sender %s, want %s", seen, alice)
		}
		if tc.name == "static token" && seen != testAddr(0x09) {
			t.Fatalf("engine saw sender %s for static token", seen)
		}
	}
}

func TestEngineErrorsAreMapped(t *testing.T) {
	eng := &fakeEngine{repay: func(context.Context, string, string, bool, string) (engine.RepayView, error) {
		return engine.RepayView{}, fmt.Errorf("market x: %w", lending.ErrMarketPaused)
	}}
	srv := newTestServer(t, eng)
	rec := do(t, srv, http.MethodPost, "/api/v1/markets/mkt/repay", `{"partPayment":true,"value":"5"}`, bearer(t, testAddr(0x02)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var body apiError
	decodeBody(t, rec, &body)
	if body.Code != "market_paused" {
		t.Fatalf("code = %q", body.Code)
	}
}

func TestRejectsMalformedBodies(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	auth := bearer(t, testAddr(0x03))
	for _, body := range []string{"", "{", `{"value":"1","extra":true}`} {
		rec := do(t, srv, http.MethodPost, "/api/v1/markets/mkt/borrow", body, auth)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d", body, rec.Code)
		}
	}
	rec := do(t, srv, http.MethodPost, "/api/v1/queues/q/pools/abc/bids", `{"share":"1"}`, auth)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad pool status = %d", rec.Code)
	}
}

func TestLiquidateForwardsRequest(t *testing.T) {
	var got engine.LiquidateRequest
	eng := &fakeEngine{liquidate: func(_ context.Context, market string, req engine.LiquidateRequest) (engine.LiquidationView, error) {
		got = req
		return engine.LiquidationView{Liquidated: len(req.Accounts)}, nil
	}}
	srv := newTestServer(t, eng)
	rec := do(t, srv, http.MethodPost, "/api/v1/markets/mkt/liquidate",
		`{"accounts":["a","b"],"maxBorrowParts":["1","2"],"swapper":"q"}`, bearer(t, testAddr(0x04)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(got.Accounts) != 2 || got.Swapper != "q" || got.MaxBorrowParts[1] != "2" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestPlaceBidAndFees(t *testing.T) {
	eng := &fakeEngine{
		placeBid: func(_ context.Context, queue string, pool uint32, share string) (engine.BidView, error) {
			return engine.BidView{ID: "bid-1", Pool: pool, Share: share}, nil
		},
		withdraw: func(_ context.Context, markets []string) (map[string]engine.FeeView, error) {
			if len(markets) != 0 {
				return nil, fmt.Errorf("expected every market")
			}
			return map[string]engine.FeeView{"m1": {Fraction: "1", Share: "2"}}, nil
		},
	}
	srv := newTestServer(t, eng)
	auth := bearer(t, testAddr(0x05))

	rec := do(t, srv, http.MethodPost, "/api/v1/queues/q/pools/3/bids", `{"share":"50"}`, auth)
	if rec.Code != http.StatusCreated {
		t.Fatalf("bid status = %d", rec.Code)
	}
	var bid engine.BidView
	decodeBody(t, rec, &bid)
	if bid.Pool != 3 || bid.Share != "50" {
		t.Fatalf("unexpected bid %+v", bid)
	}

	rec = do(t, srv, http.MethodPost, "/api/v1/admin/fees", "", auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("fees status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	rec := do(t, srv, http.MethodGet, "/api/v1/events", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled status = %d", rec.Code)
	}

	store := &fakeEvents{records: []eventstore.Record{{ID: 7, Type: "lending.borrowed"}}}
	srv = newTestServer(t, &fakeEngine{}, func(cfg *Config) { cfg.Events = store })
	rec = do(t, srv, http.MethodGet, "/api/v1/events?type=lending.&market=m&after=3&limit=20", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.last.Type != "lending." || store.last.Market != "m" || store.last.AfterID != 3 || store.last.Limit != 20 {
		t.Fatalf("unexpected filter %+v", store.last)
	}
	var body struct {
		Head string `json:"head"`
		Next uint64 `json:"next"`
	}
	decodeBody(t, rec, &body)
	if body.Head != "head" || body.Next != 7 {
		t.Fatalf("unexpected page %+v", body)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/events?after=x", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor status = %d", rec.Code)
	}
}

func TestRateLimitedRequestsAreRejected(t *testing.T) {
	eng := &fakeEngine{getMarket: func(context.Context, string) (engine.MarketView, error) {
		return engine.MarketView{Address: "m"}, nil
	}}
	srv := newTestServer(t, eng, func(cfg *Config) {
		cfg.Limiter = NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 2})
	})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, srv, http.MethodGet, "/api/v1/markets/m", "", "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
}
