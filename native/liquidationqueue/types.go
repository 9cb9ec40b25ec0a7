package liquidationqueue

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
	"lendcore/native/lending"
)

const (
	// MaxBidPools is the number of discount pools. Pool i buys collateral
	// at an i percent discount.
	MaxBidPools = 10
	// PoolDiscountStep is the discount added per pool, in
	// lending.FeePrecision units.
	PoolDiscountStep = 1_000
	// DefaultActivationDelay is the number of seconds a bid waits before it
	// can be activated.
	DefaultActivationDelay = 600
)

var (
	ErrInvalidPool    = errors.New("liquidation queue: invalid pool")
	ErrBidNotFound    = errors.New("liquidation queue: bid not found")
	ErrBidNotReady    = errors.New("liquidation queue: bid not ready for activation")
	ErrBidActive      = errors.New("liquidation queue: bid already active")
	ErrBidTooSmall    = errors.New("liquidation queue: bid below minimum")
	ErrNothingToClaim = errors.New("liquidation queue: nothing to redeem")
	ErrNotOwner       = errors.New("liquidation queue: caller does not own bid")
	ErrInvalidConfig  = errors.New("liquidation queue: invalid configuration")
)

// State is the persistence surface of a queue. core/state.Manager satisfies
// it.
type State interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	Atomic(fn func() error) error
	Emit(events.Event)
}

// Bid is a standing offer to buy collateral with asset shares at a pool's
// discount.
type Bid struct {
	ID       string
	Bidder   crypto.Address
	Pool     uint32
	Share    *uint256.Int
	PlacedAt uint64
	Active   bool
}

func (b *Bid) clone() *Bid {
	out := *b
	out.Share = new(uint256.Int).Set(b.Share)
	return &out
}

// poolRecord is the persisted FIFO of bids in one pool.
type poolRecord struct {
	Bids []*Bid
}

// Discount returns the pool discount in lending.FeePrecision units.
func Discount(pool uint32) uint64 {
	return uint64(pool) * PoolDiscountStep
}

// Config parameterises a queue.
type Config struct {
	CollateralID    lending.AssetID
	AssetID         lending.AssetID
	ActivationDelay uint64
	// MinBidAmount is the smallest bid, measured in asset amount.
	MinBidAmount *uint256.Int
}

func (c *Config) validate() error {
	if c.CollateralID == c.AssetID {
		return fmt.Errorf("%w: collateral and asset must differ", ErrInvalidConfig)
	}
	if c.ActivationDelay == 0 {
		c.ActivationDelay = DefaultActivationDelay
	}
	if c.MinBidAmount == nil {
		c.MinBidAmount = new(uint256.Int)
	}
	return nil
}

// ExecutionResult summarises one ExecuteBids call.
type ExecutionResult struct {
	CollateralShare *uint256.Int
	AmountFilled    *uint256.Int
	ShareFilled     *uint256.Int
	Fills           []Fill
}

// Fill is the portion of one bid consumed by an execution.
type Fill struct {
	BidID           string
	Bidder          crypto.Address
	Pool            uint32
	Share           *uint256.Int
	CollateralShare *uint256.Int
}

func queueKey(prefix string, queue crypto.Address, suffix []byte) []byte {
	key := append([]byte(prefix), queue[:]...)
	return append(key, suffix...)
}

func poolKey(queue crypto.Address, pool uint32) []byte {
	return queueKey("lqueue/pool/", queue, []byte{byte(pool >> 24), byte(pool >> 16), byte(pool >> 8), byte(pool)})
}

func balanceKey(queue, bidder crypto.Address) []byte {
	return queueKey("lqueue/balance/", queue, bidder[:])
}
