package lending_test

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
	"lendcore/native/lending"
)

func TestBorrowUpToCollateralizationThenLiquidateAfterPriceDrop(t *testing.T) {
	h := newHarness(t, scenarioConfig())
	h.lend(alice, e18(20_000))
	h.pledge(bob, e18(10))

	// 10 collateral at 1000 is worth 10_000; 74% is well inside the limit.
	h.borrow(bob, e18(7_400))
	if ok, err := h.market.IsSolvent(bob, false); err != nil || !ok {
		t.Fatalf("expected solvent at 74%%, ok=%v err=%v", ok, err)
	}
	// Exactly 75% still passes.
	h.borrow(bob, e18(100))
	if _, _, err := h.market.Borrow(h.as(bob), bob, bob, uint256.NewInt(1)); err == nil {
		t.Fatalf("expected borrowing past 75%% to fail")
	} else {
		requireErr(t, err, lending.ErrInsolvent)
	}

	// Collateral loses 1.5%: 1 collateral is now worth 985.
	h.oracle.rate = new(uint256.Int).Div(lending.ExchangeRatePrecision, uint256.NewInt(985))
	if ok, err := h.market.IsSolventAt(bob, h.oracle.rate, true); err != nil || ok {
		t.Fatalf("expected position liquidatable, ok=%v err=%v", ok, err)
	}
	closing, err := h.market.ComputeClosingFactor(bob, h.oracle.rate)
	if err != nil {
		t.Fatalf("closing factor: %v", err)
	}
	if !closing.Eq(e18(7_500)) {
		t.Fatalf("expected the whole debt closable, got %s", closing.Dec())
	}

	swapper := &fakeSwapper{addr: carol, ledger: h.ledger, price: 985}
	h.fund(carol, h.asset, e18(20_000))
	h.authority.swappers[carol] = true
	liquidator := addr(0x10)

	var partDuringSwap *uint256.Int
	swapper.onSwap = func() {
		partDuringSwap = h.position(bob).BorrowPart
	}

	res, err := h.market.Liquidate(h.as(liquidator), []crypto.Address{bob}, nil, swapper, nil)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if res.Liquidated() != 1 {
		t.Fatalf("expected one liquidated account, got %d", res.Liquidated())
	}
	if partDuringSwap == nil || !partDuringSwap.IsZero() {
		t.Fatalf("swapper observed stale borrow part %v", partDuringSwap)
	}
	pos := h.position(bob)
	if !pos.BorrowPart.IsZero() {
		t.Fatalf("expected borrow part cleared, got %s", pos.BorrowPart.Dec())
	}
	if !pos.CollateralShare.Lt(e18(10)) || pos.CollateralShare.IsZero() {
		t.Fatalf("expected partial collateral left, got %s", pos.CollateralShare.Dec())
	}
	if h.balance(liquidator, h.asset).IsZero() {
		t.Fatalf("expected liquidator to receive the swap surplus")
	}
	if !res.Surplus.Eq(h.balance(liquidator, h.asset)) {
		t.Fatalf("surplus %s != liquidator balance %s", res.Surplus.Dec(), h.balance(liquidator, h.asset).Dec())
	}
	st := h.state()
	if !st.TotalBorrow.Base.IsZero() || !st.TotalBorrow.Elastic.IsZero() {
		t.Fatalf("expected total borrow cleared, got %s/%s", st.TotalBorrow.Elastic.Dec(), st.TotalBorrow.Base.Dec())
	}
	if h.count(events.TypeLendingLiquidated) != 1 {
		t.Fatalf("expected one liquidation event")
	}
	h.requireConserved()
}

func TestBorrowingFeeChargedOnTopOfPayout(t *testing.T) {
	cfg := scenarioConfig()
	cfg.BorrowingFee = 50_000
	h := newHarness(t, cfg)
	h.lend(alice, e18(20_000))
	h.pledge(bob, e18(10))

	part, share, err := h.market.Borrow(h.as(bob), bob, bob, e18(1_000))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if !part.Eq(e18(1_500)) {
		t.Fatalf("expected part 1500e18, got %s", part.Dec())
	}
	if !share.Eq(e18(1_000)) || !h.balance(bob, h.asset).Eq(e18(1_000)) {
		t.Fatalf("expected borrower to receive exactly 1000e18, got %s", h.balance(bob, h.asset).Dec())
	}
	debt, err := h.market.BorrowAmount(bob)
	if err != nil {
		t.Fatalf("borrow amount: %v", err)
	}
	if !debt.Eq(e18(1_500)) {
		t.Fatalf("expected debt 1500e18, got %s", debt.Dec())
	}
	h.requireConserved()
}

func TestMarketWithoutModulesRejectsDispatch(t *testing.T) {
	h := newHarness(t, scenarioConfig(), withoutModules())
	before := h.state()

	if _, _, err := h.market.Borrow(h.as(bob), bob, bob, e18(1)); err == nil {
		t.Fatalf("expected borrow to fail")
	} else {
		requireErr(t, err, lending.ErrModuleNotSet)
	}
	if _, err := h.market.ComputeAssetAmountToSolvency(bob, nil); err == nil {
		t.Fatalf("expected solvency query to fail")
	} else {
		requireErr(t, err, lending.ErrModuleNotSet)
	}
	if _, err := h.market.Liquidate(h.as(carol), []crypto.Address{bob}, nil, nil, nil); err == nil {
		t.Fatalf("expected liquidate to fail")
	} else {
		requireErr(t, err, lending.ErrModuleNotSet)
	}

	after := h.state()
	if !after.TotalBorrow.Elastic.Eq(before.TotalBorrow.Elastic) || !after.TotalAsset.Elastic.Eq(before.TotalAsset.Elastic) {
		t.Fatalf("state changed on rejected dispatch")
	}

	if err := h.market.SetModule(h.as(bob), lending.LendingBorrowing{}); err == nil {
		t.Fatalf("expected non-authority module change to fail")
	}
	if err := h.market.SetModule(h.as(authorityAddr), lending.LendingBorrowing{}); err != nil {
		t.Fatalf("set module: %v", err)
	}
	h.pledge(bob, e18(1))
	if !h.position(bob).CollateralShare.Eq(e18(1)) {
		t.Fatalf("expected collateral after wiring the module")
	}
}

func TestFlashLoanRequiresRepaymentWithFee(t *testing.T) {
	h := newHarness(t, scenarioConfig())
	h.lend(alice, e18(10_000))
	h.fund(carol, h.asset, e18(10))

	amount := e18(1_000)
	// 0.09% of 1000e18
	wantFee := new(uint256.Int).Div(new(uint256.Int).Mul(amount, uint256.NewInt(90)), uint256.NewInt(lending.FeePrecision))

	short := &fakeBorrower{addr: carol, ledger: h.ledger, market: marketAddr, repay: func(amount, _ *uint256.Int) *uint256.Int {
		return amount
	}}
	before := h.balance(carol, h.asset)
	if _, err := h.market.FlashLoan(h.as(carol), short, amount, nil); err == nil {
		t.Fatalf("expected short repayment to fail")
	} else {
		requireErr(t, err, lending.ErrInsufficientFunds)
	}
	if short.calls != 1 {
		t.Fatalf("expected callback once, got %d", short.calls)
	}
	if !h.balance(carol, h.asset).Eq(before) {
		t.Fatalf("failed flash loan leaked funds: %s", h.balance(carol, h.asset).Dec())
	}
	if h.count(events.TypeLendingFlashLoan) != 0 {
		t.Fatalf("failed flash loan emitted an event")
	}

	exact := &fakeBorrower{addr: carol, ledger: h.ledger, market: marketAddr, repay: func(amount, fee *uint256.Int) *uint256.Int {
		return new(uint256.Int).Add(amount, fee)
	}}
	elasticBefore := h.state().TotalAsset.Elastic
	fee, err := h.market.FlashLoan(h.as(carol), exact, amount, nil)
	if err != nil {
		t.Fatalf("flash loan: %v", err)
	}
	if !fee.Eq(wantFee) {
		t.Fatalf("expected fee %s, got %s", wantFee.Dec(), fee.Dec())
	}
	if got := new(uint256.Int).Sub(h.state().TotalAsset.Elastic, elasticBefore); !got.Eq(wantFee) {
		t.Fatalf("expected lenders credited %s, got %s", wantFee.Dec(), got.Dec())
	}
	if h.count(events.TypeLendingFlashLoan) != 1 {
		t.Fatalf("expected one flash loan event")
	}
	h.requireConserved()
}

func TestYearOfAccrualMatchesRate(t *testing.T) {
	h := newHarness(t, scenarioConfig())
	h.lend(alice, e18(20_000))
	h.pledge(bob, e18(10))
	h.borrow(bob, e18(5_000))

	st := h.state()
	rate := st.Accrue.InterestPerSecond
	const year = uint64(365 * 24 * 60 * 60)
	h.now += year
	if err := h.market.Accrue(h.as(bob)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	grown := new(big.Int).Sub(h.state().TotalBorrow.Elastic.ToBig(), st.TotalBorrow.Elastic.ToBig())

	want := new(big.Int).Mul(st.TotalBorrow.Elastic.ToBig(), rate.ToBig())
	want.Mul(want, new(big.Int).SetUint64(year))
	want.Quo(want, lending.ExchangeRatePrecision.ToBig())
	if want.Sign() == 0 {
		t.Fatalf("expected non-zero expected interest")
	}
	diff := new(big.Int).Abs(new(big.Int).Sub(grown, want))
	tolerance := new(big.Int).Quo(want, big.NewInt(100))
	if diff.Cmp(tolerance) > 0 {
		t.Fatalf("interest %s deviates from %s by more than 1%%", grown, want)
	}
	if h.count(events.TypeLendingAccrued) != 1 {
		t.Fatalf("expected one accrual event")
	}
}
