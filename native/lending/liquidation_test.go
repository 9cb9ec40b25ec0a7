package lending_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"

	"lendcore/crypto"
	"lendcore/native/lending"
)

// partialConfig liquidates only as much as brings the position back under
// the collateralization rate.
func partialConfig() lending.MarketConfig {
	cfg := scenarioConfig()
	cfg.LiquidationCollateralizationRate = 80_000
	cfg.LiquidationMultiplier = 12_000
	return cfg
}

// setupUnderwater leaves bob borrowing 7500 against 10 collateral that has
// dropped to 900 per unit.
func setupUnderwater(t *testing.T, cfg lending.MarketConfig) *harness {
	t.Helper()
	h := newHarness(t, cfg)
	h.lend(alice, e18(20_000))
	h.pledge(bob, e18(10))
	h.borrow(bob, e18(7_500))
	h.oracle.rate = new(uint256.Int).Div(lending.ExchangeRatePrecision, uint256.NewInt(900))
	return h
}

func TestDirectLiquidationClosesPartOfTheDebt(t *testing.T) {
	h := setupUnderwater(t, partialConfig())
	liquidator := addr(0x10)
	h.fund(liquidator, h.asset, e18(10_000))

	closing, err := h.market.ComputeClosingFactor(bob, h.oracle.rate)
	if err != nil {
		t.Fatalf("closing factor: %v", err)
	}
	// (7500 - 0.75*9000) / (1 - 0.75*1.12) = 4687.5
	low, high := e18(4_687), e18(4_688)
	if closing.Lt(low) || closing.Gt(high) {
		t.Fatalf("unexpected closing factor %s", closing.Dec())
	}
	reward, err := h.market.ComputeLiquidatorReward(bob, h.oracle.rate)
	if err != nil {
		t.Fatalf("liquidator reward: %v", err)
	}
	if reward.IsZero() || !reward.Lt(closing) {
		t.Fatalf("unexpected reward %s", reward.Dec())
	}

	res, err := h.market.Liquidate(h.as(liquidator), []crypto.Address{bob}, nil, nil, nil)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	entry := res.Accounts[0]
	if entry.Skipped {
		t.Fatalf("expected bob liquidated")
	}
	remaining := h.position(bob).BorrowPart
	if remaining.IsZero() || !remaining.Eq(new(uint256.Int).Sub(e18(7_500), entry.Part)) {
		t.Fatalf("unexpected remaining part %s after closing %s", remaining.Dec(), entry.Part.Dec())
	}
	if !h.balance(liquidator, h.collateral).Eq(entry.CollateralShare) {
		t.Fatalf("liquidator should hold the seized collateral")
	}
	paid := new(uint256.Int).Sub(e18(10_000), h.balance(liquidator, h.asset))
	if !paid.Eq(res.BorrowShare) {
		t.Fatalf("liquidator paid %s, expected %s", paid.Dec(), res.BorrowShare.Dec())
	}
	if ok, _ := h.market.IsSolventAt(bob, h.oracle.rate, true); !ok {
		t.Fatalf("expected position healthy after liquidation")
	}
	h.requireConserved()
}

func TestLiquidationSkipsSolventAccountsAndHonoursCaps(t *testing.T) {
	h := setupUnderwater(t, partialConfig())
	h.pledge(carol, e18(10))
	h.borrow(carol, e18(100))
	liquidator := addr(0x10)
	h.fund(liquidator, h.asset, e18(10_000))

	res, err := h.market.Liquidate(h.as(liquidator), []crypto.Address{carol, bob}, []*uint256.Int{nil, e18(1_000)}, nil, nil)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !res.Accounts[0].Skipped || res.Accounts[1].Skipped {
		t.Fatalf("expected carol skipped and bob liquidated: %+v", res.Accounts)
	}
	if !res.Accounts[1].Part.Eq(e18(1_000)) {
		t.Fatalf("expected cap of 1000e18 parts, got %s", res.Accounts[1].Part.Dec())
	}
	if !h.position(carol).BorrowPart.Eq(e18(100)) {
		t.Fatalf("solvent account touched")
	}
	if res.Liquidated() != 1 {
		t.Fatalf("expected one liquidation")
	}

	_, err = h.market.Liquidate(h.as(liquidator), []crypto.Address{bob}, []*uint256.Int{e18(1), e18(1)}, nil, nil)
	requireErr(t, err, lending.ErrInvalidParameter)
	_, err = h.market.Liquidate(context.Background(), []crypto.Address{bob}, nil, nil, nil)
	requireErr(t, err, lending.ErrUnauthorized)
}

func TestLiquidationRejectsUnknownSwapper(t *testing.T) {
	h := setupUnderwater(t, scenarioConfig())
	swapper := &fakeSwapper{addr: carol, ledger: h.ledger, price: 900}

	before := h.position(bob)
	_, err := h.market.Liquidate(h.as(addr(0x10)), []crypto.Address{bob}, nil, swapper, nil)
	requireErr(t, err, lending.ErrInvalidSwapper)
	if !h.position(bob).BorrowPart.Eq(before.BorrowPart) {
		t.Fatalf("rejected liquidation changed the position")
	}
}

func TestShortSwapRollsBackLiquidation(t *testing.T) {
	h := setupUnderwater(t, scenarioConfig())
	swapper := &fakeSwapper{addr: carol, ledger: h.ledger, price: 900, short: true}
	h.fund(carol, h.asset, e18(20_000))
	h.authority.swappers[carol] = true

	before := h.position(bob)
	stBefore := h.state()
	_, err := h.market.Liquidate(h.as(addr(0x10)), []crypto.Address{bob}, nil, swapper, nil)
	requireErr(t, err, lending.ErrSwapInsufficient)

	after := h.position(bob)
	if !after.BorrowPart.Eq(before.BorrowPart) || !after.CollateralShare.Eq(before.CollateralShare) {
		t.Fatalf("position changed after failed swap")
	}
	if !h.state().TotalAsset.Elastic.Eq(stBefore.TotalAsset.Elastic) {
		t.Fatalf("totals changed after failed swap")
	}
	if !h.balance(carol, h.collateral).IsZero() {
		t.Fatalf("swapper kept collateral after rollback")
	}
	h.requireConserved()
}

func TestLiquidationWithHealthyBatchIsNoop(t *testing.T) {
	h := newHarness(t, scenarioConfig())
	h.lend(alice, e18(10_000))
	h.pledge(bob, e18(10))
	h.borrow(bob, e18(1_000))

	res, err := h.market.Liquidate(h.as(addr(0x10)), []crypto.Address{bob}, nil, nil, nil)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if res.Liquidated() != 0 || !res.BorrowAmount.IsZero() {
		t.Fatalf("healthy account liquidated")
	}
}
