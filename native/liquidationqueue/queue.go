package liquidationqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
	"lendcore/native/lending"
)

var feePrecision = uint256.NewInt(lending.FeePrecision)

// Queue is an order book of discounted bids for one market's seized
// collateral. Bidders escrow asset shares; executions sell collateral to the
// cheapest active bids first and leave the bought collateral redeemable.
type Queue struct {
	address crypto.Address
	state   State
	ledger  lending.Ledger
	oracle  lending.Oracle
	cfg     Config
	now     func() uint64
	logger  *slog.Logger
}

var _ lending.Swapper = (*Queue)(nil)

// Option customises a Queue.
type Option func(*Queue)

// WithClock overrides the unix-seconds time source used for activation.
func WithClock(now func() uint64) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// New builds a queue operating the ledger account at address. ledger must be
// the queue's own operator handle and oracle must quote the market pair.
func New(address crypto.Address, state State, ledger lending.Ledger, oracle lending.Oracle, cfg Config, opts ...Option) (*Queue, error) {
	switch {
	case address.IsZero():
		return nil, fmt.Errorf("%w: address required", ErrInvalidConfig)
	case state == nil || ledger == nil || oracle == nil:
		return nil, fmt.Errorf("%w: state, ledger and oracle required", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	q := &Queue{
		address: address,
		state:   state,
		ledger:  ledger,
		oracle:  oracle,
		cfg:     cfg,
		now:     func() uint64 { return uint64(time.Now().Unix()) },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "liquidation_queue", "queue", address.String())
	return q, nil
}

// Address implements lending.Swapper.
func (q *Queue) Address() crypto.Address { return q.address }

// Config returns the queue configuration.
func (q *Queue) Config() Config { return q.cfg }

func (q *Queue) loadPool(pool uint32) (*poolRecord, error) {
	rec := new(poolRecord)
	ok, err := q.state.KVGet(poolKey(q.address, pool), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &poolRecord{}, nil
	}
	return rec, nil
}

func (q *Queue) savePool(pool uint32, rec *poolRecord) error {
	if len(rec.Bids) == 0 {
		return q.state.KVDelete(poolKey(q.address, pool))
	}
	return q.state.KVPut(poolKey(q.address, pool), rec)
}

// BalanceOf returns the collateral shares bidder can redeem.
func (q *Queue) BalanceOf(bidder crypto.Address) (*uint256.Int, error) {
	bal := new(uint256.Int)
	if _, err := q.state.KVGet(balanceKey(q.address, bidder), bal); err != nil {
		return nil, err
	}
	return bal, nil
}

func (q *Queue) credit(bidder crypto.Address, share *uint256.Int) error {
	bal, err := q.BalanceOf(bidder)
	if err != nil {
		return err
	}
	return q.state.KVPut(balanceKey(q.address, bidder), new(uint256.Int).Add(bal, share))
}

// Bids returns the bids of one pool in execution order.
func (q *Queue) Bids(pool uint32) ([]*Bid, error) {
	if pool >= MaxBidPools {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPool, pool)
	}
	rec, err := q.loadPool(pool)
	if err != nil {
		return nil, err
	}
	out := make([]*Bid, 0, len(rec.Bids))
	for _, bid := range rec.Bids {
		out = append(out, bid.clone())
	}
	return out, nil
}

// Bid escrows share of the asset from the caller into pool. The bid is
// inactive until ActivateBid runs after the activation delay.
func (q *Queue) Bid(ctx context.Context, pool uint32, share *uint256.Int) (*Bid, error) {
	bidder := lending.Sender(ctx)
	if bidder.IsZero() {
		return nil, fmt.Errorf("%w: sender required", lending.ErrUnauthorized)
	}
	if pool >= MaxBidPools {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPool, pool)
	}
	if share == nil || share.IsZero() {
		return nil, fmt.Errorf("%w: empty bid", lending.ErrInvalidParameter)
	}
	if amount := q.ledger.ToAmount(q.cfg.AssetID, share, false); amount.Lt(q.cfg.MinBidAmount) {
		return nil, fmt.Errorf("%w: %s < %s", ErrBidTooSmall, amount.Dec(), q.cfg.MinBidAmount.Dec())
	}
	bid := &Bid{
		ID:       uuid.NewString(),
		Bidder:   bidder,
		Pool:     pool,
		Share:    new(uint256.Int).Set(share),
		PlacedAt: q.now(),
	}
	err := q.state.Atomic(func() error {
		if err := q.ledger.TransferShares(q.cfg.AssetID, bidder, q.address, share); err != nil {
			return fmt.Errorf("liquidation queue: escrow bid: %w", err)
		}
		rec, err := q.loadPool(pool)
		if err != nil {
			return err
		}
		rec.Bids = append(rec.Bids, bid)
		if err := q.savePool(pool, rec); err != nil {
			return err
		}
		q.emitBid(events.TypeQueueBid, bid)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bid.clone(), nil
}

// ActivateBid makes a matured bid eligible for execution. Activated bids
// join the back of their pool's queue.
func (q *Queue) ActivateBid(ctx context.Context, pool uint32, id string) error {
	sender := lending.Sender(ctx)
	return q.state.Atomic(func() error {
		rec, idx, err := q.findBid(pool, id, sender)
		if err != nil {
			return err
		}
		bid := rec.Bids[idx]
		if bid.Active {
			return ErrBidActive
		}
		if q.now() < bid.PlacedAt+q.cfg.ActivationDelay {
			return fmt.Errorf("%w: ready at %d", ErrBidNotReady, bid.PlacedAt+q.cfg.ActivationDelay)
		}
		rec.Bids = append(rec.Bids[:idx], rec.Bids[idx+1:]...)
		bid.Active = true
		rec.Bids = append(rec.Bids, bid)
		if err := q.savePool(pool, rec); err != nil {
			return err
		}
		q.emitBid(events.TypeQueueBidActivate, bid)
		return nil
	})
}

// RemoveBid cancels a bid and returns its remaining escrow to the bidder.
func (q *Queue) RemoveBid(ctx context.Context, pool uint32, id string) (*uint256.Int, error) {
	sender := lending.Sender(ctx)
	var refunded *uint256.Int
	err := q.state.Atomic(func() error {
		rec, idx, err := q.findBid(pool, id, sender)
		if err != nil {
			return err
		}
		bid := rec.Bids[idx]
		rec.Bids = append(rec.Bids[:idx], rec.Bids[idx+1:]...)
		if err := q.savePool(pool, rec); err != nil {
			return err
		}
		if err := q.ledger.TransferShares(q.cfg.AssetID, q.address, bid.Bidder, bid.Share); err != nil {
			return fmt.Errorf("liquidation queue: refund bid: %w", err)
		}
		refunded = new(uint256.Int).Set(bid.Share)
		q.emitBid(events.TypeQueueBidRemoved, bid)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

func (q *Queue) findBid(pool uint32, id string, sender crypto.Address) (*poolRecord, int, error) {
	if pool >= MaxBidPools {
		return nil, 0, fmt.Errorf("%w: %d", ErrInvalidPool, pool)
	}
	rec, err := q.loadPool(pool)
	if err != nil {
		return nil, 0, err
	}
	for i, bid := range rec.Bids {
		if bid.ID != id {
			continue
		}
		if bid.Bidder != sender {
			return nil, 0, ErrNotOwner
		}
		return rec, i, nil
	}
	return nil, 0, fmt.Errorf("%w: %s", ErrBidNotFound, id)
}

func (q *Queue) emitBid(eventType string, bid *Bid) {
	q.state.Emit(events.QueueBid{
		Type:   eventType,
		Queue:  q.address,
		BidID:  bid.ID,
		Bidder: bid.Bidder,
		Pool:   bid.Pool,
		Amount: new(uint256.Int).Set(bid.Share),
	})
}

// Redeem transfers the caller's purchased collateral to to.
func (q *Queue) Redeem(ctx context.Context, to crypto.Address) (*uint256.Int, error) {
	bidder := lending.Sender(ctx)
	if bidder.IsZero() {
		return nil, fmt.Errorf("%w: sender required", lending.ErrUnauthorized)
	}
	if to.IsZero() {
		to = bidder
	}
	var share *uint256.Int
	err := q.state.Atomic(func() error {
		bal, err := q.BalanceOf(bidder)
		if err != nil {
			return err
		}
		if bal.IsZero() {
			return ErrNothingToClaim
		}
		if err := q.state.KVDelete(balanceKey(q.address, bidder)); err != nil {
			return err
		}
		if err := q.ledger.TransferShares(q.cfg.CollateralID, q.address, to, bal); err != nil {
			return fmt.Errorf("liquidation queue: redeem: %w", err)
		}
		share = bal
		q.state.Emit(events.QueueRedeemed{Queue: q.address, Bidder: bidder, To: to, Share: new(uint256.Int).Set(bal)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}
