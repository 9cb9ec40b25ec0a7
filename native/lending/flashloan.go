package lending

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"lendcore/core/events"
)

// FlashLoan lends amount of the borrowable asset to receiver for the duration
// of its callback. The receiver must send back the principal plus fee before
// the callback returns, otherwise the whole loan is rolled back with
// ErrInsufficientFunds. Shares it routes through AddAsset or Repay are booked
// by those calls and do not count as repayment. The fee accrues to lenders.
func (m *Market) FlashLoan(ctx context.Context, receiver FlashBorrower, amount *uint256.Int, data []byte) (*uint256.Int, error) {
	if receiver == nil || receiver.Address().IsZero() {
		return nil, fmt.Errorf("%w: receiver required", ErrInvalidParameter)
	}
	if isZero(amount) {
		return nil, fmt.Errorf("%w: flash loan amount must be positive", ErrInvalidParameter)
	}
	sender := Sender(ctx)
	var fee *uint256.Int
	err := m.run("flash_loan", func() error {
		st, err := m.LoadState()
		if err != nil {
			return err
		}
		m.accrue(st)
		share := m.ledger.ToShare(m.assetID, amount, true)
		if st.TotalAsset.Elastic.Lt(share) {
			return fmt.Errorf("%w: idle liquidity %s below %s", ErrInsufficientFunds, st.TotalAsset.Elastic.Dec(), share.Dec())
		}
		fee = mulDiv(amount, u64(st.Config.FlashLoanFee), feePrecision)
		owed := m.ledger.ToShare(m.assetID, add(amount, fee), true)
		if err := m.saveState(st); err != nil {
			return err
		}

		mark := m.markBooks(st)
		if err := m.ledger.TransferShares(m.assetID, m.address, receiver.Address(), share); err != nil {
			return fmt.Errorf("lending: send flash loan: %w", err)
		}
		if err := receiver.OnFlashLoan(ctx, sender, m.assetID, clone(amount), clone(fee), data); err != nil {
			return fmt.Errorf("lending: flash loan callback: %w", err)
		}
		returned, fresh, err := m.inflowSince(mark, share)
		if err != nil {
			return err
		}
		if returned.Lt(owed) {
			return fmt.Errorf("%w: flash loan returned %s shares, owed %s", ErrInsufficientFunds, returned.Dec(), owed.Dec())
		}
		fresh.TotalAsset.Elastic = add(fresh.TotalAsset.Elastic, subFloor(owed, share))
		m.state.Emit(events.LendingFlashLoan{Market: m.address, Sender: sender, Receiver: receiver.Address(), Amount: clone(amount), Fee: clone(fee)})
		return m.saveState(fresh)
	})
	if err != nil {
		return nil, err
	}
	return fee, nil
}
