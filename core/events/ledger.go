package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"lendcore/core/types"
	"lendcore/crypto"
)

const (
	TypeLedgerAssetRegistered = "ledger.asset_registered"
	TypeLedgerDeposit         = "ledger.deposit"
	TypeLedgerWithdraw        = "ledger.withdraw"
	TypeLedgerTransfer        = "ledger.transfer"
	TypeLedgerApproval        = "ledger.approval"
	TypeLedgerStrategy        = "ledger.strategy"
)

// LedgerAssetRegistered records a new (token, strategy) asset id.
type LedgerAssetRegistered struct {
	AssetID  uint32
	Token    string
	Strategy string
}

func (LedgerAssetRegistered) EventType() string { return TypeLedgerAssetRegistered }

func (e LedgerAssetRegistered) Event() *types.Event {
	return &types.Event{Type: TypeLedgerAssetRegistered, Attributes: map[string]string{
		"assetId":  uintString(uint64(e.AssetID)),
		"token":    normalizeAsset(e.Token),
		"strategy": e.Strategy,
	}}
}

// LedgerDeposit records wallet funds converted into shares.
type LedgerDeposit struct {
	AssetID uint32
	From    crypto.Address
	To      crypto.Address
	Amount  *uint256.Int
	Share   *uint256.Int
}

func (LedgerDeposit) EventType() string { return TypeLedgerDeposit }

func (e LedgerDeposit) Event() *types.Event {
	return &types.Event{Type: TypeLedgerDeposit, Attributes: map[string]string{
		"assetId": uintString(uint64(e.AssetID)),
		"from":    addressString(e.From),
		"to":      addressString(e.To),
		"amount":  amountString(e.Amount),
		"share":   amountString(e.Share),
	}}
}

// LedgerWithdraw records shares redeemed back to a wallet.
type LedgerWithdraw struct {
	AssetID uint32
	From    crypto.Address
	To      crypto.Address
	Amount  *uint256.Int
	Share   *uint256.Int
}

func (LedgerWithdraw) EventType() string { return TypeLedgerWithdraw }

func (e LedgerWithdraw) Event() *types.Event {
	return &types.Event{Type: TypeLedgerWithdraw, Attributes: map[string]string{
		"assetId": uintString(uint64(e.AssetID)),
		"from":    addressString(e.From),
		"to":      addressString(e.To),
		"amount":  amountString(e.Amount),
		"share":   amountString(e.Share),
	}}
}

// LedgerTransfer records a share movement between accounts.
type LedgerTransfer struct {
	AssetID uint32
	From    crypto.Address
	To      crypto.Address
	Share   *uint256.Int
}

func (LedgerTransfer) EventType() string { return TypeLedgerTransfer }

func (e LedgerTransfer) Event() *types.Event {
	return &types.Event{Type: TypeLedgerTransfer, Attributes: map[string]string{
		"assetId": uintString(uint64(e.AssetID)),
		"from":    addressString(e.From),
		"to":      addressString(e.To),
		"share":   amountString(e.Share),
	}}
}

// LedgerApproval records an operator grant on the ledger.
type LedgerApproval struct {
	Owner    crypto.Address
	Operator crypto.Address
	Approved bool
}

func (LedgerApproval) EventType() string { return TypeLedgerApproval }

func (e LedgerApproval) Event() *types.Event {
	return &types.Event{Type: TypeLedgerApproval, Attributes: map[string]string{
		"owner":    addressString(e.Owner),
		"operator": addressString(e.Operator),
		"approved": strconv.FormatBool(e.Approved),
	}}
}

// LedgerStrategy records a yield or loss booked against an asset.
type LedgerStrategy struct {
	AssetID uint32
	Amount  *uint256.Int
	Loss    bool
}

func (LedgerStrategy) EventType() string { return TypeLedgerStrategy }

func (e LedgerStrategy) Event() *types.Event {
	return &types.Event{Type: TypeLedgerStrategy, Attributes: map[string]string{
		"assetId": uintString(uint64(e.AssetID)),
		"amount":  amountString(e.Amount),
		"loss":    strconv.FormatBool(e.Loss),
	}}
}
