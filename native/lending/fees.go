package lending

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"lendcore/core/events"
)

// FeeWithdrawal reports protocol fees routed to the fee recipient.
type FeeWithdrawal struct {
	Fraction *uint256.Int
	Share    *uint256.Int
}

// WithdrawFees converts the accumulated protocol fee fraction into ledger
// shares and pays them to the authority's fee recipient. Only idle liquidity
// can be paid out; the remainder stays accrued. Authority only.
func (m *Market) WithdrawFees(ctx context.Context) (*FeeWithdrawal, error) {
	if err := m.requireAuthority(ctx); err != nil {
		return nil, err
	}
	recipient := m.authority.FeeRecipient()
	if recipient.IsZero() {
		return nil, fmt.Errorf("%w: fee recipient not configured", ErrInvalidParameter)
	}
	out := &FeeWithdrawal{Fraction: zero(), Share: zero()}
	err := m.run("withdraw_fees", func() error {
		st, err := m.LoadState()
		if err != nil {
			return err
		}
		m.accrue(st)
		fraction := clone(st.Accrue.FeesEarnedFraction)
		if isZero(fraction) || isZero(st.TotalAsset.Base) {
			return m.saveState(st)
		}
		allShare := add(st.TotalAsset.Elastic, m.ledger.ToShare(m.assetID, st.TotalBorrow.Elastic, true))
		share := mulDiv(fraction, allShare, st.TotalAsset.Base)
		if st.TotalAsset.Elastic.Lt(share) {
			share = clone(st.TotalAsset.Elastic)
			fraction = mulDiv(share, st.TotalAsset.Base, allShare)
		}
		remaining := subFloor(st.TotalAsset.Base, fraction)
		if isZero(share) || (!isZero(remaining) && remaining.Lt(minimumBalance)) {
			return m.saveState(st)
		}
		st.TotalAsset.SubBoth(share, fraction)
		st.Accrue.FeesEarnedFraction = subFloor(st.Accrue.FeesEarnedFraction, fraction)
		if err := m.ledger.TransferShares(m.assetID, m.address, recipient, share); err != nil {
			return fmt.Errorf("lending: pay fees: %w", err)
		}
		out.Fraction = fraction
		out.Share = share
		m.state.Emit(events.LendingFeesWithdrawn{Market: m.address, To: recipient, Fraction: clone(fraction), Share: clone(share)})
		return m.saveState(st)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
