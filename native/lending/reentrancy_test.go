package lending_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
	"lendcore/native/lending"
)

var dave = addr(0x04)

// relendingBorrower deposits into the market from inside the flash loan
// callback, then sends back direct shares.
type relendingBorrower struct {
	h       *harness
	addr    crypto.Address
	deposit func(amount, fee *uint256.Int) *uint256.Int
	direct  func(amount, fee *uint256.Int) *uint256.Int
}

func (b *relendingBorrower) Address() crypto.Address { return b.addr }

func (b *relendingBorrower) OnFlashLoan(_ context.Context, _ crypto.Address, asset lending.AssetID, amount, fee *uint256.Int, _ []byte) error {
	if _, err := b.h.market.AddAsset(b.h.as(b.addr), b.addr, b.addr, b.deposit(amount, fee)); err != nil {
		return err
	}
	if share := b.direct(amount, fee); !share.IsZero() {
		return b.h.ledger.Operator(b.addr).TransferShares(asset, b.addr, marketAddr, share)
	}
	return nil
}

// repayingSwapper repays another account's debt on the market instead of
// delivering swap proceeds.
type repayingSwapper struct {
	h      *harness
	addr   crypto.Address
	debtor crypto.Address
}

func (s *repayingSwapper) Address() crypto.Address { return s.addr }

func (s *repayingSwapper) Swap(_ context.Context, req lending.SwapRequest) (*uint256.Int, *uint256.Int, error) {
	if _, _, err := s.h.market.Repay(s.h.as(s.addr), s.addr, s.debtor, false, req.MinAmountOut); err != nil {
		return nil, nil, err
	}
	return new(uint256.Int), new(uint256.Int), nil
}

func TestFlashLoanDepositsDoNotCountAsRepayment(t *testing.T) {
	tests := []struct {
		name    string
		deposit func(amount, fee *uint256.Int) *uint256.Int
		direct  func(amount, fee *uint256.Int) *uint256.Int
		wantErr error
	}{
		{
			name:    "relend principal and fee",
			deposit: func(amount, fee *uint256.Int) *uint256.Int { return new(uint256.Int).Add(amount, fee) },
			direct:  func(*uint256.Int, *uint256.Int) *uint256.Int { return new(uint256.Int) },
			wantErr: lending.ErrInsufficientFunds,
		},
		{
			name:    "relend own funds and repay directly",
			deposit: func(*uint256.Int, *uint256.Int) *uint256.Int { return e18(5) },
			direct:  func(amount, fee *uint256.Int) *uint256.Int { return new(uint256.Int).Add(amount, fee) },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, scenarioConfig())
			h.lend(alice, e18(1_000))
			h.fund(carol, h.asset, e18(10))
			elasticBefore := h.state().TotalAsset.Elastic

			receiver := &relendingBorrower{h: h, addr: carol, deposit: tc.deposit, direct: tc.direct}
			fee, err := h.market.FlashLoan(h.as(carol), receiver, e18(900), nil)
			if tc.wantErr != nil {
				requireErr(t, err, tc.wantErr)
				if !h.position(carol).AssetFraction.IsZero() {
					t.Fatalf("failed flash loan left lender fraction %s", h.position(carol).AssetFraction.Dec())
				}
				if !h.balance(carol, h.asset).Eq(e18(10)) {
					t.Fatalf("failed flash loan moved funds: %s", h.balance(carol, h.asset).Dec())
				}
				if !h.state().TotalAsset.Elastic.Eq(elasticBefore) {
					t.Fatalf("failed flash loan changed totals")
				}
			} else {
				if err != nil {
					t.Fatalf("flash loan: %v", err)
				}
				want := new(uint256.Int).Add(elasticBefore, e18(5))
				want.Add(want, fee)
				if !h.state().TotalAsset.Elastic.Eq(want) {
					t.Fatalf("expected elastic %s, got %s", want.Dec(), h.state().TotalAsset.Elastic.Dec())
				}
				if h.position(carol).AssetFraction.IsZero() {
					t.Fatalf("re-entrant deposit was not booked")
				}
			}
			h.requireConserved()
		})
	}
}

func TestSwapperRepaymentIsNotLiquidationProceeds(t *testing.T) {
	h := newHarness(t, scenarioConfig())
	h.lend(alice, e18(40_000))
	h.pledge(bob, e18(10))
	h.borrow(bob, e18(7_500))
	h.pledge(dave, e18(20))
	h.borrow(dave, e18(7_500))
	h.oracle.rate = new(uint256.Int).Div(lending.ExchangeRatePrecision, uint256.NewInt(900))

	h.fund(carol, h.asset, e18(20_000))
	h.authority.swappers[carol] = true
	swapper := &repayingSwapper{h: h, addr: carol, debtor: dave}

	bobBefore := h.position(bob)
	daveBefore := h.position(dave)
	carolBefore := h.balance(carol, h.asset)

	_, err := h.market.Liquidate(h.as(addr(0x10)), []crypto.Address{bob}, nil, swapper, nil)
	requireErr(t, err, lending.ErrSwapInsufficient)

	if !h.position(dave).BorrowPart.Eq(daveBefore.BorrowPart) {
		t.Fatalf("dave's repayment survived the rollback")
	}
	if got := h.position(bob); !got.BorrowPart.Eq(bobBefore.BorrowPart) || !got.CollateralShare.Eq(bobBefore.CollateralShare) {
		t.Fatalf("bob's position changed after failed liquidation")
	}
	if !h.balance(carol, h.asset).Eq(carolBefore) || !h.balance(carol, h.collateral).IsZero() {
		t.Fatalf("swapper balances changed after rollback")
	}
	if h.count(events.TypeLendingLiquidated) != 0 {
		t.Fatalf("rolled back liquidation emitted events")
	}
	h.requireConserved()
}
