package lending

import (
	"context"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
)

// State is the persistence surface a market needs. core/state.Manager
// satisfies it.
type State interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Atomic(fn func() error) error
	Emit(events.Event)
}

// Ledger is the shared multi-asset share ledger as seen by one operator (the
// market). Exactly one of amount and share is non-zero on Deposit/Withdraw.
// The ledger owns the amount/share ratio of every asset; results are never
// cached across operations.
type Ledger interface {
	Deposit(asset AssetID, from, to crypto.Address, amount, share *uint256.Int) (amountOut, shareOut *uint256.Int, err error)
	Withdraw(asset AssetID, from, to crypto.Address, amount, share *uint256.Int) (amountOut, shareOut *uint256.Int, err error)
	TransferShares(asset AssetID, from, to crypto.Address, share *uint256.Int) error
	BalanceOf(account crypto.Address, asset AssetID) *uint256.Int
	ToShare(asset AssetID, amount *uint256.Int, roundUp bool) *uint256.Int
	ToAmount(asset AssetID, share *uint256.Int, roundUp bool) *uint256.Int
}

// Oracle quotes the amount of collateral worth one unit of the borrowed asset,
// scaled by ExchangeRatePrecision. Get may refresh internal state; Peek must
// not.
type Oracle interface {
	Get(ctx context.Context) (*uint256.Int, error)
	Peek(ctx context.Context) (*uint256.Int, error)
}

// SwapRequest asks a venue to convert ShareIn of AssetIn (already transferred
// to the venue) into AssetOut shares credited to To.
type SwapRequest struct {
	AssetIn      AssetID
	AssetOut     AssetID
	ShareIn      *uint256.Int
	MinAmountOut *uint256.Int
	To           crypto.Address
	Data         []byte
}

// Swapper converts seized collateral into the repayment asset.
type Swapper interface {
	Address() crypto.Address
	Swap(ctx context.Context, req SwapRequest) (amountOut, shareOut *uint256.Int, err error)
}

// FlashBorrower receives flash loans. The callback must return the principal
// plus fee to the market before it returns.
type FlashBorrower interface {
	Address() crypto.Address
	OnFlashLoan(ctx context.Context, sender crypto.Address, asset AssetID, amount, fee *uint256.Int, data []byte) error
}

// Authority is the registry view a market relies on for admin authorization,
// swap venue validation, fee routing and protocol-wide pauses.
type Authority interface {
	Address() crypto.Address
	IsSwapper(addr crypto.Address) bool
	FeeRecipient() crypto.Address
	IsPaused(module string) bool
}
