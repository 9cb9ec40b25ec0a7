package lending

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
)

// LendingBorrowing is the stock collateral and debt module.
type LendingBorrowing struct{}

func (LendingBorrowing) Kind() ModuleKind { return ModuleLendingBorrowing }

func (LendingBorrowing) AddCollateral(_ context.Context, m *Market, st *MarketState, from, to crypto.Address, share *uint256.Int) error {
	if isZero(share) {
		return fmt.Errorf("%w: collateral share must be positive", ErrInvalidParameter)
	}
	pos, err := m.LoadPosition(to)
	if err != nil {
		return err
	}
	if err := m.ledger.TransferShares(m.collateralID, from, m.address, share); err != nil {
		return fmt.Errorf("lending: pull collateral: %w", err)
	}
	pos.CollateralShare = add(pos.CollateralShare, share)
	st.TotalCollateralShare = add(st.TotalCollateralShare, share)
	if err := m.StorePosition(to, pos); err != nil {
		return err
	}
	m.state.Emit(events.LendingCollateralAdded{Market: m.address, From: from, To: to, Share: clone(share)})
	return nil
}

func (LendingBorrowing) RemoveCollateral(_ context.Context, m *Market, st *MarketState, from, to crypto.Address, share *uint256.Int) error {
	if isZero(share) {
		return fmt.Errorf("%w: collateral share must be positive", ErrInvalidParameter)
	}
	pos, err := m.LoadPosition(from)
	if err != nil {
		return err
	}
	if pos.CollateralShare.Lt(share) {
		return fmt.Errorf("%w: holds %s, requested %s", ErrInsufficientCollateral, pos.CollateralShare.Dec(), share.Dec())
	}
	pos.CollateralShare = subFloor(pos.CollateralShare, share)
	st.TotalCollateralShare = subFloor(st.TotalCollateralShare, share)
	if !m.isSolvent(st, pos, st.ExchangeRate, false) {
		return fmt.Errorf("%w: position would be undercollateralized", ErrInsufficientCollateral)
	}
	if err := m.StorePosition(from, pos); err != nil {
		return err
	}
	if err := m.ledger.TransferShares(m.collateralID, m.address, to, share); err != nil {
		return fmt.Errorf("lending: release collateral: %w", err)
	}
	m.state.Emit(events.LendingCollateralRemoved{Market: m.address, From: from, To: to, Share: clone(share)})
	return nil
}

func (LendingBorrowing) Borrow(_ context.Context, m *Market, st *MarketState, from, to crypto.Address, amount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if isZero(amount) {
		return nil, nil, fmt.Errorf("%w: borrow amount must be positive", ErrInvalidParameter)
	}
	pos, err := m.LoadPosition(from)
	if err != nil {
		return nil, nil, err
	}
	fee := mulDiv(amount, u64(st.Config.BorrowingFee), feePrecision)
	// Parts round up so the debt recorded never undershoots amount plus fee.
	part := st.TotalBorrow.Add(add(amount, fee), true)
	pos.BorrowPart = add(pos.BorrowPart, part)

	if !isZero(st.Config.TotalBorrowCap) && st.TotalBorrow.Elastic.Gt(st.Config.TotalBorrowCap) {
		return nil, nil, fmt.Errorf("%w: total borrow %s exceeds cap %s", ErrBorrowCapReached, st.TotalBorrow.Elastic.Dec(), st.Config.TotalBorrowCap.Dec())
	}

	// The payout rounds down so the borrower never receives more than amount.
	share := m.ledger.ToShare(m.assetID, amount, false)
	if isZero(share) {
		return nil, nil, fmt.Errorf("%w: borrow amount %s is worth no shares", ErrInvalidParameter, amount.Dec())
	}
	if st.TotalAsset.Elastic.Lt(share) {
		return nil, nil, fmt.Errorf("%w: market liquidity %s below %s", ErrInsufficientFunds, st.TotalAsset.Elastic.Dec(), share.Dec())
	}
	st.TotalAsset.Elastic = subFloor(st.TotalAsset.Elastic, share)

	if !m.isSolvent(st, pos, st.ExchangeRate, false) {
		return nil, nil, ErrInsolvent
	}
	if err := m.StorePosition(from, pos); err != nil {
		return nil, nil, err
	}
	if err := m.ledger.TransferShares(m.assetID, m.address, to, share); err != nil {
		return nil, nil, fmt.Errorf("lending: pay out borrow: %w", err)
	}
	m.state.Emit(events.LendingBorrowed{Market: m.address, From: from, To: to, Amount: clone(amount), Fee: fee, Part: clone(part)})
	return part, share, nil
}

func (LendingBorrowing) Repay(_ context.Context, m *Market, st *MarketState, from, to crypto.Address, partPayment bool, value *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if isZero(value) {
		return nil, nil, fmt.Errorf("%w: repay value must be positive", ErrInvalidParameter)
	}
	pos, err := m.LoadPosition(to)
	if err != nil {
		return nil, nil, err
	}
	var part *uint256.Int
	if partPayment {
		if pos.BorrowPart.Lt(value) {
			return nil, nil, fmt.Errorf("%w: repay part %s exceeds debt part %s", ErrInvalidParameter, value.Dec(), pos.BorrowPart.Dec())
		}
		part = clone(value)
	} else {
		// Amount to part rounds down: the payer never retires more debt than
		// the amount covers.
		part = minOf(st.TotalBorrow.ToBase(value, false), pos.BorrowPart)
	}
	if isZero(part) {
		return nil, nil, fmt.Errorf("%w: nothing to repay", ErrInvalidParameter)
	}
	amount := st.TotalBorrow.Sub(part, true)
	pos.BorrowPart = subFloor(pos.BorrowPart, part)

	share := m.ledger.ToShare(m.assetID, amount, true)
	if err := m.ledger.TransferShares(m.assetID, from, m.address, share); err != nil {
		return nil, nil, fmt.Errorf("lending: pull repayment: %w", err)
	}
	st.TotalAsset.Elastic = add(st.TotalAsset.Elastic, share)
	if err := m.StorePosition(to, pos); err != nil {
		return nil, nil, err
	}
	m.state.Emit(events.LendingRepaid{Market: m.address, From: from, To: to, Amount: clone(amount), Part: clone(part)})
	return amount, part, nil
}

func (LendingBorrowing) AmountToSolvency(m *Market, st *MarketState, account crypto.Address, rate *uint256.Int) (*uint256.Int, error) {
	pos, err := m.LoadPosition(account)
	if err != nil {
		return nil, err
	}
	if isZero(pos.BorrowPart) {
		return zero(), nil
	}
	if isZero(rate) {
		rate = st.ExchangeRate
	}
	if isZero(rate) {
		return nil, ErrOracleUnavailable
	}
	debt := st.TotalBorrow.ToElastic(pos.BorrowPart, true)
	limit := m.collateralLimit(pos, st.Config.CollateralizationRate)
	owed := mul(debt, rate)
	if !limit.Lt(owed) {
		return zero(), nil
	}
	return mulDivUp(subFloor(owed, limit), u64(1), rate), nil
}

// AddAsset lends share ledger shares of the borrowable asset from from and
// credits lender fractions to to.
func (m *Market) AddAsset(ctx context.Context, from, to crypto.Address, share *uint256.Int) (*uint256.Int, error) {
	var fraction *uint256.Int
	err := m.run("add_asset", func() error {
		st, err := m.LoadState()
		if err != nil {
			return err
		}
		if to.IsZero() {
			return fmt.Errorf("%w: recipient required", ErrInvalidParameter)
		}
		if isZero(share) {
			return fmt.Errorf("%w: asset share must be positive", ErrInvalidParameter)
		}
		if err := m.authorize(ctx, from); err != nil {
			return err
		}
		m.accrue(st)

		allShare := add(st.TotalAsset.Elastic, m.ledger.ToShare(m.assetID, st.TotalBorrow.Elastic, true))
		if isZero(allShare) {
			fraction = clone(share)
		} else {
			fraction = mulDiv(share, st.TotalAsset.Base, allShare)
		}
		if isZero(fraction) || add(st.TotalAsset.Base, fraction).Lt(minimumBalance) {
			return fmt.Errorf("%w: deposit below minimum share balance", ErrInvalidParameter)
		}
		if err := m.ledger.TransferShares(m.assetID, from, m.address, share); err != nil {
			return fmt.Errorf("lending: pull asset: %w", err)
		}
		st.TotalAsset.AddBoth(share, fraction)

		pos, err := m.LoadPosition(to)
		if err != nil {
			return err
		}
		pos.AssetFraction = add(pos.AssetFraction, fraction)
		if err := m.StorePosition(to, pos); err != nil {
			return err
		}
		m.state.Emit(events.LendingAssetAdded{Market: m.address, From: from, To: to, Share: clone(share), Fraction: clone(fraction)})
		return m.saveState(st)
	})
	if err != nil {
		return nil, err
	}
	return fraction, nil
}

// RemoveAsset burns fraction lender fractions of from and pays the matching
// ledger shares to to.
func (m *Market) RemoveAsset(ctx context.Context, from, to crypto.Address, fraction *uint256.Int) (*uint256.Int, error) {
	var share *uint256.Int
	err := m.run("remove_asset", func() error {
		st, err := m.LoadState()
		if err != nil {
			return err
		}
		if to.IsZero() {
			return fmt.Errorf("%w: recipient required", ErrInvalidParameter)
		}
		if isZero(fraction) {
			return fmt.Errorf("%w: fraction must be positive", ErrInvalidParameter)
		}
		if err := m.authorize(ctx, from); err != nil {
			return err
		}
		m.accrue(st)

		pos, err := m.LoadPosition(from)
		if err != nil {
			return err
		}
		if pos.AssetFraction.Lt(fraction) {
			return fmt.Errorf("%w: holds %s fractions", ErrInsufficientFunds, pos.AssetFraction.Dec())
		}
		allShare := add(st.TotalAsset.Elastic, m.ledger.ToShare(m.assetID, st.TotalBorrow.Elastic, true))
		share = mulDiv(fraction, allShare, st.TotalAsset.Base)
		if st.TotalAsset.Elastic.Lt(share) {
			return fmt.Errorf("%w: idle liquidity %s below %s", ErrInsufficientFunds, st.TotalAsset.Elastic.Dec(), share.Dec())
		}
		st.TotalAsset.SubBoth(share, fraction)
		if !isZero(st.TotalAsset.Base) && st.TotalAsset.Base.Lt(minimumBalance) {
			return fmt.Errorf("%w: withdrawal leaves pool below minimum share balance", ErrInvalidParameter)
		}
		pos.AssetFraction = subFloor(pos.AssetFraction, fraction)
		if err := m.StorePosition(from, pos); err != nil {
			return err
		}
		if err := m.ledger.TransferShares(m.assetID, m.address, to, share); err != nil {
			return fmt.Errorf("lending: pay out asset: %w", err)
		}
		m.state.Emit(events.LendingAssetRemoved{Market: m.address, From: from, To: to, Share: clone(share), Fraction: clone(fraction)})
		return m.saveState(st)
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}
