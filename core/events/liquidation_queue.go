package events

import (
	"github.com/holiman/uint256"

	"lendcore/core/types"
	"lendcore/crypto"
)

const (
	TypeQueueBid         = "liquidation_queue.bid"
	TypeQueueBidActivate = "liquidation_queue.bid_activated"
	TypeQueueBidRemoved  = "liquidation_queue.bid_removed"
	TypeQueueExecuted    = "liquidation_queue.executed"
	TypeQueueRedeemed    = "liquidation_queue.redeemed"
)

// QueueBid records a bid entering, activating or leaving a pool. Type selects
// which of the three transitions happened.
type QueueBid struct {
	Type   string
	Queue  crypto.Address
	BidID  string
	Bidder crypto.Address
	Pool   uint32
	Amount *uint256.Int
}

func (e QueueBid) EventType() string { return e.Type }

func (e QueueBid) Event() *types.Event {
	return &types.Event{Type: e.Type, Attributes: map[string]string{
		"queue":  addressString(e.Queue),
		"bidId":  e.BidID,
		"bidder": addressString(e.Bidder),
		"pool":   uintString(uint64(e.Pool)),
		"amount": amountString(e.Amount),
	}}
}

// QueueExecuted records collateral sold into the queue.
type QueueExecuted struct {
	Queue           crypto.Address
	CollateralShare *uint256.Int
	AmountNeeded    *uint256.Int
	AmountFilled    *uint256.Int
}

func (QueueExecuted) EventType() string { return TypeQueueExecuted }

func (e QueueExecuted) Event() *types.Event {
	return &types.Event{Type: TypeQueueExecuted, Attributes: map[string]string{
		"queue":           addressString(e.Queue),
		"collateralShare": amountString(e.CollateralShare),
		"amountNeeded":    amountString(e.AmountNeeded),
		"amountFilled":    amountString(e.AmountFilled),
	}}
}

// QueueRedeemed records a bidder claiming purchased collateral.
type QueueRedeemed struct {
	Queue  crypto.Address
	Bidder crypto.Address
	To     crypto.Address
	Share  *uint256.Int
}

func (QueueRedeemed) EventType() string { return TypeQueueRedeemed }

func (e QueueRedeemed) Event() *types.Event {
	return &types.Event{Type: TypeQueueRedeemed, Attributes: map[string]string{
		"queue":  addressString(e.Queue),
		"bidder": addressString(e.Bidder),
		"to":     addressString(e.To),
		"share":  amountString(e.Share),
	}}
}
