package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendcore/core/state"
	"lendcore/crypto"
	nativecommon "lendcore/native/common"
	"lendcore/native/ledger"
	"lendcore/native/lending"
	"lendcore/native/oracle"
	"lendcore/storage"
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = 0x7E
	a[19] = b
	return a
}

var (
	registryAddr = addr(0xF0)
	owner        = addr(0x01)
	treasury     = addr(0x02)
	stranger     = addr(0x03)
)

type fixture struct {
	manager    *state.Manager
	store      *ledger.Store
	prices     *oracle.ManualSource
	registry   *Registry
	collateral lending.AssetID
	asset      lending.AssetID
	now        uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{manager: state.NewManager(storage.NewMemDB()), now: 1_700_000_000}
	f.store = ledger.NewStore(f.manager)
	var err error
	f.collateral, err = f.store.RegisterAsset("WETH", "")
	require.NoError(t, err)
	f.asset, err = f.store.RegisterAsset("USDC", "")
	require.NoError(t, err)
	f.prices = oracle.NewManualSource()
	require.NoError(t, f.prices.SetDecimal("USDC", "WETH", "0.001", time.Now()))
	f.registry = f.open(t)
	return f
}

func (f *fixture) open(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(f.manager, f.store, registryAddr, owner, treasury,
		WithMarketOptions(lending.WithClock(func() uint64 { return f.now })))
	require.NoError(t, err)
	return r
}

func (f *fixture) oracle(t *testing.T) lending.Oracle {
	t.Helper()
	po, err := oracle.NewPairOracle(f.prices, oracle.PairConfig{Asset: "USDC", Collateral: "WETH"}, nil)
	require.NoError(t, err)
	return po
}

func as(sender crypto.Address) context.Context {
	return lending.WithSender(context.Background(), sender)
}

func (f *fixture) deploy(t *testing.T, kind string, reference bool) *lending.Market {
	t.Helper()
	name := "kashi-" + kind
	if _, ok := f.registry.rec.master(name); !ok {
		require.NoError(t, f.registry.RegisterMaster(as(owner), Master{Name: name, Kind: kind, Config: lending.DefaultMarketConfig()}))
	}
	market, err := f.registry.Deploy(as(owner), DeployRequest{
		Master:       name,
		CollateralID: f.collateral,
		AssetID:      f.asset,
		Oracle:       f.oracle(t),
		Reference:    reference,
	})
	require.NoError(t, err)
	return market
}

func TestOpenPersistsOwnership(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, owner, f.registry.Owner())
	require.Equal(t, treasury, f.registry.FeeRecipient())

	require.ErrorIs(t, f.registry.SetTreasury(as(stranger), stranger), lending.ErrUnauthorized)
	require.NoError(t, f.registry.SetTreasury(as(owner), addr(0x09)))
	require.NoError(t, f.registry.TransferOwnership(as(owner), addr(0x08)))

	reopened, err := Open(f.manager, f.store, registryAddr, stranger, stranger)
	require.NoError(t, err)
	require.Equal(t, addr(0x08), reopened.Owner())
	require.Equal(t, addr(0x09), reopened.FeeRecipient())
}

func TestRegisterMasterValidates(t *testing.T) {
	f := newFixture(t)
	master := Master{Name: "kashi", Kind: KindUtilization, Config: lending.DefaultMarketConfig()}

	require.ErrorIs(t, f.registry.RegisterMaster(as(stranger), master), lending.ErrUnauthorized)
	require.NoError(t, f.registry.RegisterMaster(as(owner), master))
	require.ErrorIs(t, f.registry.RegisterMaster(as(owner), master), ErrMasterExists)

	bad := master
	bad.Name = "other"
	bad.Kind = "fixed"
	require.ErrorIs(t, f.registry.RegisterMaster(as(owner), bad), ErrInvalidRequest)

	bad.Kind = KindUtilization
	bad.Config.BorrowingFee = 60_000
	require.ErrorIs(t, f.registry.RegisterMaster(as(owner), bad), lending.ErrInvalidParameter)
	require.Len(t, f.registry.Masters(), 1)
}

func TestDeployInitializesAndReattaches(t *testing.T) {
	f := newFixture(t)
	market := f.deploy(t, KindUtilization, false)

	st, err := market.LoadState()
	require.NoError(t, err)
	require.True(t, st.Initialized)
	require.Equal(t, uint64(500), st.Config.BorrowingFee)
	require.Equal(t, uint64(1_000_000_000_000_000), st.ExchangeRate.Uint64())
	require.Len(t, f.registry.Markets(), 1)

	_, err = f.registry.Deploy(as(owner), DeployRequest{Master: "kashi-" + KindUtilization, CollateralID: f.collateral, AssetID: f.asset, Oracle: f.oracle(t)})
	require.ErrorIs(t, err, ErrMarketExists)
	_, err = f.registry.Deploy(as(owner), DeployRequest{Master: "missing", CollateralID: f.collateral, AssetID: f.asset, Oracle: f.oracle(t)})
	require.ErrorIs(t, err, ErrUnknownMaster)

	// A second process over the same state re-attaches without re-running Init.
	restarted := f.open(t)
	again, err := restarted.Deploy(as(owner), DeployRequest{Master: "kashi-" + KindUtilization, CollateralID: f.collateral, AssetID: f.asset, Oracle: f.oracle(t)})
	require.NoError(t, err)
	require.Equal(t, market.Address(), again.Address())
	require.Len(t, restarted.Markets(), 1)
	require.True(t, restarted.IsLive(market.Address()))
}

func adminCall(t *testing.T, market crypto.Address, method string, params map[string]interface{}) AdminCall {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return AdminCall{Market: market, Method: method, Params: raw}
}

func TestExecuteRoutesAdminCalls(t *testing.T) {
	f := newFixture(t)
	market := f.deploy(t, KindUtilization, false)

	require.ErrorIs(t, market.SetBorrowingFee(as(owner), 100), lending.ErrUnauthorized)

	results, err := f.registry.Execute(as(owner), []AdminCall{
		adminCall(t, market.Address(), "setBorrowingFee", map[string]interface{}{"fee": 100}),
		adminCall(t, market.Address(), "setBorrowCap", map[string]interface{}{"cap": "5000"}),
		adminCall(t, market.Address(), "setProtocolFee", map[string]interface{}{"fee": 999_999}),
	}, false)
	require.NoError(t, err)
	require.True(t, results[0].Success)
	require.True(t, results[1].Success)
	require.False(t, results[2].Success)

	st, err := market.LoadState()
	require.NoError(t, err)
	require.Equal(t, uint64(100), st.Config.BorrowingFee)
	require.Equal(t, uint64(5000), st.Config.TotalBorrowCap.Uint64())

	_, err = f.registry.Execute(as(owner), []AdminCall{
		adminCall(t, market.Address(), "setBorrowingFee", map[string]interface{}{"fee": 200}),
		adminCall(t, market.Address(), "setFlashLoanFee", map[string]interface{}{"fee": 20_000}),
	}, true)
	require.ErrorIs(t, err, lending.ErrInvalidParameter)
	st, err = market.LoadState()
	require.NoError(t, err)
	require.Equal(t, uint64(100), st.Config.BorrowingFee, "forced batch must roll back")

	_, err = f.registry.Execute(as(stranger), []AdminCall{adminCall(t, market.Address(), "withdrawFees", nil)}, true)
	require.ErrorIs(t, err, lending.ErrUnauthorized)
	_, err = f.registry.Execute(as(owner), []AdminCall{adminCall(t, addr(0x55), "withdrawFees", nil)}, true)
	require.ErrorIs(t, err, ErrUnknownMarket)
	require.Contains(t, AdminMethods(), "setModule")
}

func TestGlobalPauseAndSwappers(t *testing.T) {
	f := newFixture(t)
	market := f.deploy(t, KindUtilization, false)
	borrower := addr(0x20)
	require.NoError(t, f.store.Mint("WETH", borrower, uint256.NewInt(1_000)))
	_, _, err := f.store.Operator(borrower).Deposit(f.collateral, borrower, borrower, uint256.NewInt(1_000), nil)
	require.NoError(t, err)
	require.NoError(t, f.store.SetApprovalForAll(borrower, market.Address(), true))

	require.NoError(t, f.registry.SetPaused(as(owner), nativecommon.GlobalModule, true))
	require.True(t, f.registry.IsPaused(nativecommon.GlobalModule))
	err = market.AddCollateral(as(borrower), borrower, borrower, uint256.NewInt(1_000))
	require.ErrorIs(t, err, lending.ErrMarketPaused)

	require.NoError(t, f.registry.SetPaused(as(owner), nativecommon.GlobalModule, false))
	require.NoError(t, market.AddCollateral(as(borrower), borrower, borrower, uint256.NewInt(1_000)))

	venue := addr(0x30)
	require.False(t, f.registry.IsSwapper(venue))
	require.NoError(t, f.registry.SetSwapper(as(owner), venue, true))
	require.True(t, f.registry.IsSwapper(venue))
	require.NoError(t, f.registry.SetSwapper(as(owner), venue, false))
	require.Empty(t, f.registry.Swappers())
}

func TestReferenceMarketDrivesDebtRate(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.registry.ReferenceDebt().IsZero())

	reference := f.deploy(t, KindDebtRate, true)
	require.Equal(t, reference.Address(), f.registry.Reference())

	_, err := f.registry.Deploy(as(owner), DeployRequest{
		Master: "kashi-" + KindDebtRate, CollateralID: f.asset, AssetID: f.collateral,
		Oracle: f.oracle(t), Reference: true,
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestWithdrawFeesAndClose(t *testing.T) {
	f := newFixture(t)
	market := f.deploy(t, KindUtilization, false)

	out, err := f.registry.WithdrawFees(as(stranger))
	require.NoError(t, err)
	require.Contains(t, out, market.Address())
	require.True(t, out[market.Address()].Share.IsZero())

	require.NoError(t, f.registry.Close())
	require.True(t, f.registry.IsPaused(lending.ModuleName))
	_, err = f.registry.Market(market.Address())
	require.ErrorIs(t, err, ErrClosed)
	_, err = f.registry.WithdrawFees(as(owner))
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, f.registry.Close())
}
