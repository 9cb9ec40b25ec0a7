package keeper

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lendcore/crypto"
	"lendcore/native/lending"
	"lendcore/services/lending/engine"
)

type fakeEngine struct {
	engine.Engine

	mu           sync.Mutex
	markets      []string
	failAccrue   map[string]bool
	accrued      []string
	refreshed    []string
	liquidatable map[string][]string
	liquidations []engine.LiquidateRequest
	feeSender    crypto.Address
	liqSender    crypto.Address
}

func (f *fakeEngine) ListMarkets(context.Context) ([]engine.MarketView, error) {
	views := make([]engine.MarketView, 0, len(f.markets))
	for _, m := range f.markets {
		views = append(views, engine.MarketView{Address: m})
	}
	return views, nil
}

func (f *fakeEngine) Accrue(_ context.Context, market string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAccrue[market] {
		return errors.New("accrue failed")
	}
	f.accrued = append(f.accrued, market)
	return nil
}

func (f *fakeEngine) UpdateExchangeRate(_ context.Context, market string) (engine.RateView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, market)
	return engine.RateView{Updated: market != "stale", Rate: "1"}, nil
}

func (f *fakeEngine) WithdrawFees(ctx context.Context, markets []string) (map[string]engine.FeeView, error) {
	f.feeSender = lending.Sender(ctx)
	return map[string]engine.FeeView{"m1": {Fraction: "5", Share: "5"}}, nil
}

func (f *fakeEngine) Liquidatable(_ context.Context, market string) ([]string, error) {
	return f.liquidatable[market], nil
}

func (f *fakeEngine) Liquidate(ctx context.Context, market string, req engine.LiquidateRequest) (engine.LiquidationView, error) {
	f.liqSender = lending.Sender(ctx)
	f.liquidations = append(f.liquidations, req)
	return engine.LiquidationView{Liquidated: len(req.Accounts)}, nil
}

func operator() crypto.Address {
	var a crypto.Address
	a[19] = 0x77
	return a
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, Config{}, nil)
	require.Error(t, err)

	_, err = New(&fakeEngine{}, Config{FeeInterval: time.Minute}, nil)
	require.Error(t, err)

	k, err := New(&fakeEngine{}, Config{RateInterval: time.Minute, AccrueInterval: time.Hour}, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, k.Stop()) }()
	names := k.Jobs()
	sort.Strings(names)
	require.Equal(t, []string{JobAccrue, JobRefreshRates}, names)
}

func TestAccrueJoinsFailures(t *testing.T) {
	eng := &fakeEngine{markets: []string{"m1", "m2", "m3"}, failAccrue: map[string]bool{"m2": true}}
	k, err := New(eng, Config{}, nil)
	require.NoError(t, err)
	defer func() { _ = k.Stop() }()

	err = k.run(context.Background(), JobAccrue, k.Accrue)
	require.Error(t, err)
	require.Contains(t, err.Error(), "m2")
	require.Equal(t, []string{"m1", "m3"}, eng.accrued)
}

func TestRefreshRatesTouchesEveryMarket(t *testing.T) {
	eng := &fakeEngine{markets: []string{"m1", "stale"}}
	k, err := New(eng, Config{}, nil)
	require.NoError(t, err)
	defer func() { _ = k.Stop() }()

	require.NoError(t, k.RefreshRates(context.Background()))
	require.Equal(t, []string{"m1", "stale"}, eng.refreshed)
}

func TestSweepAndLiquidateUseOperator(t *testing.T) {
	eng := &fakeEngine{
		markets:      []string{"m1", "m2"},
		liquidatable: map[string][]string{"m2": {"a", "b"}},
	}
	k, err := New(eng, Config{Operator: operator(), Swapper: "queue"}, nil)
	require.NoError(t, err)
	defer func() { _ = k.Stop() }()

	require.NoError(t, k.SweepFees(context.Background()))
	require.Equal(t, operator(), eng.feeSender)

	require.NoError(t, k.Liquidate(context.Background()))
	require.Equal(t, operator(), eng.liqSender)
	require.Len(t, eng.liquidations, 1)
	require.Equal(t, []string{"a", "b"}, eng.liquidations[0].Accounts)
	require.Equal(t, "queue", eng.liquidations[0].Swapper)
}

func TestScheduledJobsRun(t *testing.T) {
	eng := &fakeEngine{markets: []string{"m1"}}
	k, err := New(eng, Config{AccrueInterval: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	k.Start()
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.accrued) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, k.Stop())
}
