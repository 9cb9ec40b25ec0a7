package liquidationqueue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/native/lending"
)

// Swap implements lending.Swapper by executing bids.
func (q *Queue) Swap(ctx context.Context, req lending.SwapRequest) (*uint256.Int, *uint256.Int, error) {
	res, err := q.ExecuteBids(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return res.AmountFilled, res.ShareFilled, nil
}

// ExecuteBids sells req.ShareIn collateral, already held by the queue, to
// active bids from the lowest discount pool upward. Filled asset shares go to
// req.To. Collateral left once every bid is exhausted is credited to the
// caller. The whole execution reverts when less than req.MinAmountOut is
// filled.
func (q *Queue) ExecuteBids(ctx context.Context, req lending.SwapRequest) (*ExecutionResult, error) {
	if req.AssetIn != q.cfg.CollateralID || req.AssetOut != q.cfg.AssetID {
		return nil, fmt.Errorf("%w: queue trades %d -> %d", lending.ErrInvalidParameter, q.cfg.CollateralID, q.cfg.AssetID)
	}
	if req.ShareIn == nil || req.ShareIn.IsZero() {
		return nil, fmt.Errorf("%w: empty execution", lending.ErrInvalidParameter)
	}
	if held := q.ledger.BalanceOf(q.address, q.cfg.CollateralID); held.Lt(req.ShareIn) {
		return nil, fmt.Errorf("liquidation queue: collateral not received: hold %s, need %s", held.Dec(), req.ShareIn.Dec())
	}
	rate, err := q.oracle.Get(ctx)
	if err != nil {
		return nil, err
	}
	if rate == nil || rate.IsZero() {
		return nil, fmt.Errorf("%w: zero rate", lending.ErrOracleUnavailable)
	}

	res := &ExecutionResult{
		CollateralShare: new(uint256.Int).Set(req.ShareIn),
		AmountFilled:    new(uint256.Int),
		ShareFilled:     new(uint256.Int),
	}
	err = q.state.Atomic(func() error {
		remaining := new(uint256.Int).Set(req.ShareIn)
		for pool := uint32(0); pool < MaxBidPools && !remaining.IsZero(); pool++ {
			if err := q.fillPool(pool, rate, remaining, res); err != nil {
				return err
			}
		}
		res.AmountFilled = q.ledger.ToAmount(q.cfg.AssetID, res.ShareFilled, false)
		if req.MinAmountOut != nil && res.AmountFilled.Lt(req.MinAmountOut) {
			return fmt.Errorf("%w: filled %s, need %s", lending.ErrSwapInsufficient, res.AmountFilled.Dec(), req.MinAmountOut.Dec())
		}
		if !remaining.IsZero() {
			caller := lending.Sender(ctx)
			if caller.IsZero() {
				return fmt.Errorf("%w: unsold collateral needs a caller", lending.ErrUnauthorized)
			}
			if err := q.credit(caller, remaining); err != nil {
				return err
			}
		}
		if err := q.ledger.TransferShares(q.cfg.AssetID, q.address, req.To, res.ShareFilled); err != nil {
			return fmt.Errorf("liquidation queue: pay out: %w", err)
		}
		q.state.Emit(events.QueueExecuted{
			Queue:           q.address,
			CollateralShare: new(uint256.Int).Set(req.ShareIn),
			AmountNeeded:    clone(req.MinAmountOut),
			AmountFilled:    new(uint256.Int).Set(res.AmountFilled),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.logger.Info("bids executed",
		slog.String("collateralShare", req.ShareIn.Dec()),
		slog.String("amountFilled", res.AmountFilled.Dec()),
		slog.Int("fills", len(res.Fills)))
	return res, nil
}

// fillPool consumes active bids of pool in order. remaining is decremented in
// place.
func (q *Queue) fillPool(pool uint32, rate, remaining *uint256.Int, res *ExecutionResult) error {
	rec, err := q.loadPool(pool)
	if err != nil {
		return err
	}
	premium := new(uint256.Int).Add(feePrecision, uint256.NewInt(Discount(pool)))
	kept := make([]*Bid, 0, len(rec.Bids))
	changed := false
	for _, bid := range rec.Bids {
		if !bid.Active || remaining.IsZero() {
			kept = append(kept, bid)
			continue
		}
		// Collateral the whole bid buys at the pool's discount.
		bidAmount := q.ledger.ToAmount(q.cfg.AssetID, bid.Share, false)
		worth := mulDiv(mulDiv(bidAmount, rate, lending.ExchangeRatePrecision), premium, feePrecision)
		worthShare := q.ledger.ToShare(q.cfg.CollateralID, worth, false)
		if worthShare.IsZero() {
			kept = append(kept, bid)
			continue
		}
		fill := Fill{BidID: bid.ID, Bidder: bid.Bidder, Pool: pool}
		if !worthShare.Gt(remaining) {
			fill.Share = new(uint256.Int).Set(bid.Share)
			fill.CollateralShare = worthShare
		} else {
			collateralAmount := q.ledger.ToAmount(q.cfg.CollateralID, remaining, false)
			needed := mulDiv(mulDiv(collateralAmount, feePrecision, premium), lending.ExchangeRatePrecision, rate)
			used := q.ledger.ToShare(q.cfg.AssetID, needed, true)
			if used.Gt(bid.Share) {
				used = new(uint256.Int).Set(bid.Share)
			}
			fill.Share = used
			fill.CollateralShare = new(uint256.Int).Set(remaining)
			bid.Share = new(uint256.Int).Sub(bid.Share, used)
			if !bid.Share.IsZero() {
				kept = append(kept, bid)
			}
		}
		changed = true
		remaining.Sub(remaining, fill.CollateralShare)
		res.ShareFilled.Add(res.ShareFilled, fill.Share)
		res.Fills = append(res.Fills, fill)
		if err := q.credit(bid.Bidder, fill.CollateralShare); err != nil {
			return err
		}
	}
	if !changed {
		return nil
	}
	rec.Bids = kept
	return q.savePool(pool, rec)
}

func mulDiv(a, b, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		return new(uint256.Int)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
