package server

import (
	"context"
	"testing"
	"time"

	"lendcore/core/types"
	"lendcore/crypto"
	"lendcore/integrations/eventstore"
	"lendcore/native/lending"
	"lendcore/services/lending/engine"
)

// fakeEngine implements engine.Engine through optional hooks. Calling a
// method without a hook panics through the nil embedded interface.
type fakeEngine struct {
	engine.Engine

	listMarkets func(ctx context.Context) ([]engine.MarketView, error)
	getMarket   func(ctx context.Context, market string) (engine.MarketView, error)
	borrow      func(ctx context.Context, market, to, amount string) (engine.BorrowView, error)
	repay       func(ctx context.Context, market, to string, partPayment bool, value string) (engine.RepayView, error)
	liquidate   func(ctx context.Context, market string, req engine.LiquidateRequest) (engine.LiquidationView, error)
	placeBid    func(ctx context.Context, queue string, pool uint32, share string) (engine.BidView, error)
	withdraw    func(ctx context.Context, markets []string) (map[string]engine.FeeView, error)
	subscribe   func(buffer int) (<-chan *types.Event, func())
}

func (f *fakeEngine) ListMarkets(ctx context.Context) ([]engine.MarketView, error) {
	return f.listMarkets(ctx)
}

func (f *fakeEngine) GetMarket(ctx context.Context, market string) (engine.MarketView, error) {
	return f.getMarket(ctx, market)
}

func (f *fakeEngine) Borrow(ctx context.Context, market, to, amount string) (engine.BorrowView, error) {
	return f.borrow(ctx, market, to, amount)
}

func (f *fakeEngine) Repay(ctx context.Context, market, to string, partPayment bool, value string) (engine.RepayView, error) {
	return f.repay(ctx, market, to, partPayment, value)
}

func (f *fakeEngine) Liquidate(ctx context.Context, market string, req engine.LiquidateRequest) (engine.LiquidationView, error) {
	return f.liquidate(ctx, market, req)
}

func (f *fakeEngine) PlaceBid(ctx context.Context, queue string, pool uint32, share string) (engine.BidView, error) {
	return f.placeBid(ctx, queue, pool, share)
}

func (f *fakeEngine) WithdrawFees(ctx context.Context, markets []string) (map[string]engine.FeeView, error) {
	return f.withdraw(ctx, markets)
}

func (f *fakeEngine) Subscribe(buffer int) (<-chan *types.Event, func()) {
	return f.subscribe(buffer)
}

type fakeEvents struct {
	last    eventstore.Filter
	records []eventstore.Record
	err     error
}

func (f *fakeEvents) Query(_ context.Context, filter eventstore.Filter) ([]eventstore.Record, error) {
	f.last = filter
	return f.records, f.err
}

func (f *fakeEvents) Head() string { return "head" }

func testAddr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = 0x3C
	a[19] = b
	return a
}

const testSecret = "unit-test-secret"

func bearer(t *testing.T, who crypto.Address) string {
	t.Helper()
	token, err := IssueToken(testSecret, "", who, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func newTestServer(t *testing.T, eng engine.Engine, opts ...func(*Config)) *Server {
	t.Helper()
	auth, err := NewAuthenticator(AuthConfig{
		HMACSecret: testSecret,
		APITokens:  map[string]string{"static-token": testAddr(0x09).String()},
	}, nil)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	cfg := Config{Engine: eng, Auth: auth}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

// senderOf reports the caller the engine saw.
func senderOf(ctx context.Context) crypto.Address {
	return lending.Sender(ctx)
}
