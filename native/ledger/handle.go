package ledger

import (
	"github.com/holiman/uint256"

	"lendcore/crypto"
	"lendcore/native/lending"
)

// Handle is the ledger as seen by one operator. Every debit is checked
// against the operator's approvals.
type Handle struct {
	store    *Store
	operator crypto.Address
}

var _ lending.Ledger = (*Handle)(nil)

// Operator returns a handle acting as operator.
func (s *Store) Operator(operator crypto.Address) *Handle {
	return &Handle{store: s, operator: operator}
}

// Address returns the operator the handle acts as.
func (h *Handle) Address() crypto.Address { return h.operator }

func (h *Handle) Deposit(asset lending.AssetID, from, to crypto.Address, amount, share *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	return h.store.deposit(h.operator, asset, from, to, amount, share)
}

func (h *Handle) Withdraw(asset lending.AssetID, from, to crypto.Address, amount, share *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	return h.store.withdraw(h.operator, asset, from, to, amount, share)
}

func (h *Handle) TransferShares(asset lending.AssetID, from, to crypto.Address, share *uint256.Int) error {
	return h.store.transfer(h.operator, asset, from, to, share)
}

func (h *Handle) BalanceOf(account crypto.Address, asset lending.AssetID) *uint256.Int {
	return h.store.BalanceOf(account, asset)
}

func (h *Handle) ToShare(asset lending.AssetID, amount *uint256.Int, roundUp bool) *uint256.Int {
	return h.store.ToShare(asset, amount, roundUp)
}

func (h *Handle) ToAmount(asset lending.AssetID, share *uint256.Int, roundUp bool) *uint256.Int {
	return h.store.ToAmount(asset, share, roundUp)
}
