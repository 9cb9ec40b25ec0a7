package engine

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendcore/core/events"
	"lendcore/core/state"
	"lendcore/crypto"
	"lendcore/native/ledger"
	"lendcore/native/lending"
	"lendcore/native/liquidationqueue"
	"lendcore/native/oracle"
	"lendcore/native/registry"
	"lendcore/storage"
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = 0x5E
	a[19] = b
	return a
}

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1_000_000_000_000_000_000))
}

var (
	registryAddr = addr(0xF0)
	queueAddr    = addr(0xF1)
	owner        = addr(0x01)
	treasury     = addr(0x02)
	alice        = addr(0x03)
	bob          = addr(0x04)
	carol        = addr(0x05)
)

type harness struct {
	t      *testing.T
	now    uint64
	store  *ledger.Store
	prices *oracle.ManualSource
	reg    *registry.Registry
	engine *Local
	market string
	queue  *liquidationqueue.Queue
}

func as(sender crypto.Address) context.Context {
	return lending.WithSender(context.Background(), sender)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, now: 1_700_000_000}
	manager := state.NewManager(storage.NewMemDB())
	h.store = ledger.NewStore(manager)
	collateral, err := h.store.RegisterAsset("WETH", "")
	require.NoError(t, err)
	asset, err := h.store.RegisterAsset("USDC", "")
	require.NoError(t, err)

	h.prices = oracle.NewManualSource()
	h.setPrice("0.001")
	rates, err := oracle.NewPairOracle(h.prices, oracle.PairConfig{Asset: "USDC", Collateral: "WETH"}, nil)
	require.NoError(t, err)
	t.Cleanup(rates.Close)

	clock := func() uint64 { return h.now }
	h.reg, err = registry.Open(manager, h.store, registryAddr, owner, treasury,
		registry.WithMarketOptions(lending.WithClock(clock)))
	require.NoError(t, err)
	require.NoError(t, h.reg.RegisterMaster(as(owner), registry.Master{
		Name:   "kashi",
		Kind:   lending.ModelUtilization,
		Config: lending.DefaultMarketConfig(),
	}))
	market, err := h.reg.Deploy(as(owner), registry.DeployRequest{
		Master:       "kashi",
		CollateralID: collateral,
		AssetID:      asset,
		Oracle:       rates,
	})
	require.NoError(t, err)
	h.market = market.Address().String()

	h.queue, err = liquidationqueue.New(queueAddr, manager, h.store.Operator(queueAddr), rates, liquidationqueue.Config{
		CollateralID: collateral,
		AssetID:      asset,
		MinBidAmount: e18(10),
	}, liquidationqueue.WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, h.reg.SetSwapper(as(owner), queueAddr, true))

	h.engine, err = NewLocal(h.store, h.reg)
	require.NoError(t, err)
	h.engine.AddSwapper(h.queue)
	manager.SetEmitter(h.engine.Hub())
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

func (h *harness) setPrice(rate string) {
	require.NoError(h.t, h.prices.SetDecimal("USDC", "WETH", rate, time.Now()))
}

// fund mints wallet tokens, deposits them through the engine and approves
// the market and the queue.
func (h *harness) fund(account crypto.Address, token string, amount uint64) {
	h.t.Helper()
	require.NoError(h.t, h.store.Mint(token, account, e18(amount)))
	_, err := h.engine.Deposit(as(account), token, e18(amount).Dec())
	require.NoError(h.t, err)
	require.NoError(h.t, h.engine.Approve(as(account), h.market, true))
	require.NoError(h.t, h.engine.Approve(as(account), queueAddr.String(), true))
}

// open leaves bob borrowing 7000 USDC against 10 WETH.
func (h *harness) open() {
	h.t.Helper()
	ctx := context.Background()
	h.fund(alice, "USDC", 20_000)
	_, err := h.engine.AddAsset(as(alice), h.market, "", e18(20_000).Dec())
	require.NoError(h.t, err)
	h.fund(bob, "WETH", 10)
	require.NoError(h.t, h.engine.AddCollateral(as(bob), h.market, "", e18(10).Dec()))
	_, err = h.engine.Borrow(as(bob), h.market, "", e18(7_000).Dec())
	require.NoError(h.t, err)
	_, err = h.engine.GetPosition(ctx, h.market, bob.String())
	require.NoError(h.t, err)
}

func TestLocalRequiresSender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.ErrorIs(t, h.engine.AddCollateral(ctx, h.market, "", "1"), ErrUnauthenticated)
	_, err := h.engine.Deposit(ctx, "USDC", "1")
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = h.engine.PlaceBid(ctx, queueAddr.String(), 1, "1")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLocalValidatesInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.GetMarket(context.Background(), "not-an-address")
	require.ErrorIs(t, err, ErrInvalidAddress)
	_, err = h.engine.GetMarket(context.Background(), addr(0x99).String())
	require.ErrorIs(t, err, ErrNotFound)
	_, err = h.engine.Borrow(as(bob), h.market, "", "12abc")
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = h.engine.Borrow(as(bob), h.market, "", "")
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = h.engine.Deposit(as(bob), "DAI", "1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = h.engine.ListBids(context.Background(), addr(0x98).String(), 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalLendAndBorrow(t *testing.T) {
	h := newHarness(t)
	h.open()

	markets, err := h.engine.ListMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	view := markets[0]
	require.Equal(t, h.market, view.Address)
	require.Equal(t, lending.ModelUtilization, view.InterestModel)
	require.Equal(t, e18(20_000).Dec(), view.TotalAssetBase)
	require.NotEqual(t, "0", view.TotalBorrowElastic)
	require.Equal(t, "0.7500", view.Config.MaxLTV)
	require.NotEmpty(t, view.Price)

	pos, err := h.engine.GetPosition(context.Background(), h.market, bob.String())
	require.NoError(t, err)
	require.Equal(t, e18(10).Dec(), pos.CollateralShare)
	require.True(t, pos.Solvent)
	require.False(t, pos.Liquidatable)

	balances, err := h.engine.Balances(context.Background(), bob.String())
	require.NoError(t, err)
	require.Len(t, balances, 2)
	require.Equal(t, "USDC", balances[1].Token)
	require.Equal(t, e18(7_000).Dec(), balances[1].Share)

	repaid, err := h.engine.Repay(as(bob), h.market, "", true, e18(1_000).Dec())
	require.NoError(t, err)
	require.Equal(t, e18(1_000).Dec(), repaid.Part)
	require.NotEqual(t, "0", repaid.Amount)
}

func TestLocalLiquidatesDirectly(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.setPrice("0.00125")

	rate, err := h.engine.UpdateExchangeRate(context.Background(), h.market)
	require.NoError(t, err)
	require.True(t, rate.Updated)

	accounts, err := h.engine.Liquidatable(context.Background(), h.market)
	require.NoError(t, err)
	require.Equal(t, []string{bob.String()}, accounts)

	h.fund(carol, "USDC", 10_000)
	res, err := h.engine.Liquidate(as(carol), h.market, LiquidateRequest{Accounts: accounts})
	require.NoError(t, err)
	require.Equal(t, 1, res.Liquidated)
	require.Len(t, res.Accounts, 1)
	require.False(t, res.Accounts[0].Skipped)
	require.NotEqual(t, "0", res.CollateralShare)

	_, err = h.engine.Liquidate(as(carol), h.market, LiquidateRequest{Accounts: accounts, Swapper: addr(0x77).String()})
	require.ErrorIs(t, err, lending.ErrInvalidSwapper)
	_, err = h.engine.Liquidate(as(carol), h.market, LiquidateRequest{Accounts: accounts, MaxBorrowParts: []string{"1", "2"}})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLocalQueueBids(t *testing.T) {
	h := newHarness(t)
	h.fund(carol, "USDC", 1_000)
	queue := queueAddr.String()

	bid, err := h.engine.PlaceBid(as(carol), queue, 2, e18(500).Dec())
	require.NoError(t, err)
	require.Equal(t, "0.02", bid.Discount)
	require.False(t, bid.Active)

	require.ErrorIs(t, h.engine.ActivateBid(as(carol), queue, 2, bid.ID), liquidationqueue.ErrBidNotReady)
	h.now += liquidationqueue.DefaultActivationDelay
	require.NoError(t, h.engine.ActivateBid(as(carol), queue, 2, bid.ID))

	bids, err := h.engine.ListBids(context.Background(), queue, 2)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.True(t, bids[0].Active)

	refund, err := h.engine.RemoveBid(as(carol), queue, 2, bid.ID)
	require.NoError(t, err)
	require.Equal(t, e18(500).Dec(), refund)
	_, err = h.engine.Redeem(as(carol), queue, "")
	require.ErrorIs(t, err, liquidationqueue.ErrNothingToClaim)
}

func TestLocalAdminAndFees(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.now += 86_400
	require.NoError(t, h.engine.Accrue(context.Background(), h.market))

	_, err := h.engine.Admin(as(alice), []registry.AdminCall{{Market: h.engine.registry.Markets()[0].Address, Method: "setProtocolFee", Params: []byte(`{"fee":1000}`)}}, true)
	require.ErrorIs(t, err, lending.ErrUnauthorized)

	fees, err := h.engine.WithdrawFees(context.Background(), nil)
	require.NoError(t, err)
	require.Contains(t, fees, h.market)
	require.NotEqual(t, "0", fees[h.market].Share)
}

func TestLocalStreamsCommittedEvents(t *testing.T) {
	h := newHarness(t)
	ch, cancel := h.engine.Subscribe(16)
	defer cancel()

	require.NoError(t, h.store.Mint("USDC", alice, e18(5)))
	_, err := h.engine.Deposit(as(alice), "usdc", e18(5).Dec())
	require.NoError(t, err)

	select {
	case ev := <-ch:
		require.Equal(t, events.TypeLedgerDeposit, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}
