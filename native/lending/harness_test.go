package lending_test

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/core/state"
	"lendcore/crypto"
	"lendcore/native/ledger"
	"lendcore/native/lending"
	"lendcore/storage"
)

const startTime = uint64(1_700_000_000)

var (
	authorityAddr   = addr(0xA0)
	treasuryAddr    = addr(0xA1)
	conservatorAddr = addr(0xA2)
	marketAddr      = addr(0xAA)
	alice           = addr(0x01)
	bob             = addr(0x02)
	carol           = addr(0x03)
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = 0x42
	a[19] = b
	return a
}

// e18 returns v * 1e18.
func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1_000_000_000_000_000_000))
}

type fakeAuthority struct {
	addr     crypto.Address
	treasury crypto.Address
	swappers map[crypto.Address]bool
	paused   map[string]bool
}

func (a *fakeAuthority) Address() crypto.Address            { return a.addr }
func (a *fakeAuthority) IsSwapper(addr crypto.Address) bool { return a.swappers[addr] }
func (a *fakeAuthority) FeeRecipient() crypto.Address       { return a.treasury }
func (a *fakeAuthority) IsPaused(module string) bool        { return a.paused[module] }

type fakeOracle struct {
	rate *uint256.Int
	err  error
}

func (o *fakeOracle) Get(context.Context) (*uint256.Int, error) {
	if o.err != nil {
		return nil, o.err
	}
	return new(uint256.Int).Set(o.rate), nil
}

func (o *fakeOracle) Peek(ctx context.Context) (*uint256.Int, error) { return o.Get(ctx) }

// fakeSwapper pays price units of the output asset per input share from its
// own ledger inventory.
type fakeSwapper struct {
	addr   crypto.Address
	ledger *ledger.Store
	price  uint64
	short  bool
	onSwap func()
}

func (s *fakeSwapper) Address() crypto.Address { return s.addr }

func (s *fakeSwapper) Swap(_ context.Context, req lending.SwapRequest) (*uint256.Int, *uint256.Int, error) {
	if s.onSwap != nil {
		s.onSwap()
	}
	out := new(uint256.Int).Mul(req.ShareIn, uint256.NewInt(s.price))
	if s.short {
		out = new(uint256.Int).Sub(req.MinAmountOut, uint256.NewInt(1))
	}
	if err := s.ledger.Operator(s.addr).TransferShares(req.AssetOut, s.addr, req.To, out); err != nil {
		return nil, nil, err
	}
	return out, out, nil
}

// fakeBorrower returns repay shares to the market during the callback.
type fakeBorrower struct {
	addr   crypto.Address
	ledger *ledger.Store
	market crypto.Address
	repay  func(amount, fee *uint256.Int) *uint256.Int
	calls  int
}

func (b *fakeBorrower) Address() crypto.Address { return b.addr }

func (b *fakeBorrower) OnFlashLoan(_ context.Context, _ crypto.Address, asset lending.AssetID, amount, fee *uint256.Int, _ []byte) error {
	b.calls++
	return b.ledger.Operator(b.addr).TransferShares(asset, b.addr, b.market, b.repay(amount, fee))
}

type harness struct {
	t          *testing.T
	manager    *state.Manager
	ledger     *ledger.Store
	market     *lending.Market
	oracle     *fakeOracle
	authority  *fakeAuthority
	now        uint64
	emitted    []events.Event
	collateral lending.AssetID
	asset      lending.AssetID
}

type harnessOption func(*lending.Params)

func withoutModules() harnessOption {
	return func(p *lending.Params) { p.Modules = nil }
}

func withInterestModel(model lending.InterestModel) harnessOption {
	return func(p *lending.Params) { p.InterestModel = model }
}

// scenarioConfig is a 75% / 76% market whose multiplier lets one call close
// the whole debt.
func scenarioConfig() lending.MarketConfig {
	cfg := lending.DefaultMarketConfig()
	cfg.CollateralizationRate = 75_000
	cfg.LiquidationCollateralizationRate = 76_000
	cfg.LiquidationMultiplier = 40_000
	cfg.MinLiquidatorReward = 1_000
	cfg.MaxLiquidatorReward = 10_000
	cfg.BorrowingFee = 0
	cfg.Conservator = conservatorAddr
	return cfg
}

// oneCollateralPer1000 quotes 1 collateral = 1000 borrowed units.
func oneCollateralPer1000() *uint256.Int { return uint256.NewInt(1_000_000_000_000_000) }

func newHarness(t *testing.T, cfg lending.MarketConfig, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		manager:   state.NewManager(storage.NewMemDB()),
		oracle:    &fakeOracle{rate: oneCollateralPer1000()},
		authority: &fakeAuthority{addr: authorityAddr, treasury: treasuryAddr, swappers: map[crypto.Address]bool{}, paused: map[string]bool{}},
		now:       startTime,
	}
	h.manager.SetEmitter(events.EmitterFunc(func(ev events.Event) { h.emitted = append(h.emitted, ev) }))
	h.ledger = ledger.NewStore(h.manager)

	var err error
	if h.collateral, err = h.ledger.RegisterAsset("WETH", ""); err != nil {
		t.Fatalf("register collateral: %v", err)
	}
	if h.asset, err = h.ledger.RegisterAsset("USDC", ""); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	params := lending.Params{
		Address:       marketAddr,
		CollateralID:  h.collateral,
		AssetID:       h.asset,
		Ledger:        h.ledger.Operator(marketAddr),
		Oracle:        h.oracle,
		Authority:     h.authority,
		InterestModel: lending.DefaultUtilizationModel(),
		Modules:       lending.DefaultModules(),
	}
	for _, opt := range opts {
		opt(&params)
	}
	h.market, err = lending.NewMarket(h.manager, params, lending.WithClock(func() uint64 { return h.now }))
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	if err := h.market.Init(h.as(authorityAddr), cfg); err != nil {
		t.Fatalf("init market: %v", err)
	}
	return h
}

func (h *harness) as(sender crypto.Address) context.Context {
	return lending.WithSender(context.Background(), sender)
}

// fund mints amount of the asset's token to account, deposits it into the
// ledger and approves the market as operator.
func (h *harness) fund(account crypto.Address, id lending.AssetID, amount *uint256.Int) {
	h.t.Helper()
	asset, err := h.ledger.Asset(id)
	if err != nil {
		h.t.Fatalf("load asset: %v", err)
	}
	if err := h.ledger.Mint(asset.Token, account, amount); err != nil {
		h.t.Fatalf("mint: %v", err)
	}
	if _, _, err := h.ledger.Operator(account).Deposit(id, account, account, amount, nil); err != nil {
		h.t.Fatalf("deposit: %v", err)
	}
	if err := h.ledger.SetApprovalForAll(account, marketAddr, true); err != nil {
		h.t.Fatalf("approve: %v", err)
	}
}

func (h *harness) lend(lender crypto.Address, amount *uint256.Int) *uint256.Int {
	h.t.Helper()
	h.fund(lender, h.asset, amount)
	fraction, err := h.market.AddAsset(h.as(lender), lender, lender, amount)
	if err != nil {
		h.t.Fatalf("add asset: %v", err)
	}
	return fraction
}

func (h *harness) pledge(borrower crypto.Address, share *uint256.Int) {
	h.t.Helper()
	h.fund(borrower, h.collateral, share)
	if err := h.market.AddCollateral(h.as(borrower), borrower, borrower, share); err != nil {
		h.t.Fatalf("add collateral: %v", err)
	}
}

func (h *harness) borrow(borrower crypto.Address, amount *uint256.Int) {
	h.t.Helper()
	if _, _, err := h.market.Borrow(h.as(borrower), borrower, borrower, amount); err != nil {
		h.t.Fatalf("borrow %s: %v", amount.Dec(), err)
	}
}

func (h *harness) state() *lending.MarketState {
	h.t.Helper()
	st, err := h.market.LoadState()
	if err != nil {
		h.t.Fatalf("load state: %v", err)
	}
	return st
}

func (h *harness) position(account crypto.Address) *lending.Position {
	h.t.Helper()
	pos, err := h.market.Position(account)
	if err != nil {
		h.t.Fatalf("load position: %v", err)
	}
	return pos
}

func (h *harness) balance(account crypto.Address, id lending.AssetID) *uint256.Int {
	return h.ledger.BalanceOf(account, id)
}

func (h *harness) count(eventType string) int {
	n := 0
	for _, ev := range h.emitted {
		if ev.EventType() == eventType {
			n++
		}
	}
	return n
}

// requireConserved checks the market's ledger balances match its books.
func (h *harness) requireConserved() {
	h.t.Helper()
	st := h.state()
	if got := h.balance(marketAddr, h.asset); !got.Eq(st.TotalAsset.Elastic) {
		h.t.Fatalf("asset balance %s != totalAsset.elastic %s", got.Dec(), st.TotalAsset.Elastic.Dec())
	}
	if got := h.balance(marketAddr, h.collateral); !got.Eq(st.TotalCollateralShare) {
		h.t.Fatalf("collateral balance %s != totalCollateralShare %s", got.Dec(), st.TotalCollateralShare.Dec())
	}
}

func requireErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
