package events

import (
	"github.com/holiman/uint256"

	"lendcore/core/types"
	"lendcore/crypto"
)

const (
	// TypeSwapExecuted is emitted whenever a swap venue converts seized
	// collateral into the repayment asset.
	TypeSwapExecuted = "swap.executed"
)

type SwapExecuted struct {
	Venue     crypto.Address
	To        crypto.Address
	AssetIn   uint32
	AssetOut  uint32
	ShareIn   *uint256.Int
	AmountOut *uint256.Int
	ShareOut  *uint256.Int
	Rate      string
}

func (SwapExecuted) EventType() string { return TypeSwapExecuted }

func (e SwapExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeSwapExecuted,
		Attributes: map[string]string{
			"venue":     addressString(e.Venue),
			"to":        addressString(e.To),
			"assetIn":   uintString(uint64(e.AssetIn)),
			"assetOut":  uintString(uint64(e.AssetOut)),
			"shareIn":   amountString(e.ShareIn),
			"amountOut": amountString(e.AmountOut),
			"shareOut":  amountString(e.ShareOut),
			"rate":      e.Rate,
		},
	}
}
