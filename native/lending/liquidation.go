package lending

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
)

// LiquidationRequest describes one liquidation call. MaxBorrowParts pairs with
// Accounts; a nil or zero entry means "as much as the closing factor allows".
// A nil Receiver selects direct mode: the liquidator pays the closed debt and
// takes the seized collateral.
type LiquidationRequest struct {
	Liquidator     crypto.Address
	Accounts       []crypto.Address
	MaxBorrowParts []*uint256.Int
	Receiver       Swapper
	Data           []byte
}

// AccountLiquidation reports what happened to one account.
type AccountLiquidation struct {
	Account         crypto.Address
	Skipped         bool
	Part            *uint256.Int
	Amount          *uint256.Int
	Reward          *uint256.Int
	CollateralShare *uint256.Int
}

// LiquidationResult aggregates a liquidation call.
type LiquidationResult struct {
	Accounts        []AccountLiquidation
	BorrowAmount    *uint256.Int
	BorrowShare     *uint256.Int
	CollateralShare *uint256.Int
	// Surplus is the borrow-asset share paid to the liquidator in swap mode.
	Surplus *uint256.Int
}

// Liquidated counts the accounts that were not skipped.
func (r *LiquidationResult) Liquidated() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, acc := range r.Accounts {
		if !acc.Skipped {
			n++
		}
	}
	return n
}

// Liquidate closes debt of every insolvent account in accounts. Solvent
// accounts are skipped. An unregistered receiver fails before any state
// changes. Any other failure rolls back the whole call.
func (m *Market) Liquidate(ctx context.Context, accounts []crypto.Address, maxBorrowParts []*uint256.Int, receiver Swapper, data []byte) (*LiquidationResult, error) {
	module, err := m.liquidationModule()
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: no accounts", ErrInvalidParameter)
	}
	if len(maxBorrowParts) != 0 && len(maxBorrowParts) != len(accounts) {
		return nil, fmt.Errorf("%w: %d accounts but %d amounts", ErrInvalidParameter, len(accounts), len(maxBorrowParts))
	}
	if receiver != nil && !m.authority.IsSwapper(receiver.Address()) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSwapper, receiver.Address())
	}
	liquidator := Sender(ctx)
	if liquidator.IsZero() {
		return nil, ErrUnauthorized
	}
	var result *LiquidationResult
	err = m.run("liquidate", func() error {
		st, err := m.LoadState()
		if err != nil {
			return err
		}
		m.accrue(st)
		m.updateExchangeRate(ctx, st)
		result, err = module.Liquidate(ctx, m, st, LiquidationRequest{
			Liquidator:     liquidator,
			Accounts:       accounts,
			MaxBorrowParts: maxBorrowParts,
			Receiver:       receiver,
			Data:           data,
		})
		if err != nil {
			return err
		}
		return m.saveState(st)
	})
	if err != nil {
		return nil, err
	}
	mode := "direct"
	if receiver != nil {
		mode = "swap"
	}
	m.metrics.RecordLiquidations(m.address.Hex(), mode, result.Liquidated())
	return result, nil
}

// Liquidation is the stock liquidation module.
type Liquidation struct{}

func (Liquidation) Kind() ModuleKind { return ModuleLiquidation }

func (Liquidation) Liquidate(ctx context.Context, m *Market, st *MarketState, req LiquidationRequest) (*LiquidationResult, error) {
	rate := clone(st.ExchangeRate)
	result := &LiquidationResult{
		BorrowAmount:    zero(),
		BorrowShare:     zero(),
		CollateralShare: zero(),
		Surplus:         zero(),
	}
	receiverAddr := crypto.ZeroAddress
	if req.Receiver != nil {
		receiverAddr = req.Receiver.Address()
	}

	// Phase 1: every position and total is updated and persisted before any
	// external call.
	for i, account := range req.Accounts {
		pos, err := m.LoadPosition(account)
		if err != nil {
			return nil, err
		}
		entry := AccountLiquidation{Account: account, Skipped: true, Part: zero(), Amount: zero(), Reward: zero(), CollateralShare: zero()}
		if isZero(rate) || m.isSolvent(st, pos, rate, true) {
			result.Accounts = append(result.Accounts, entry)
			continue
		}
		closable := m.closingFactor(st, pos, rate)
		part := clone(pos.BorrowPart)
		if closable.Lt(st.TotalBorrow.ToElastic(pos.BorrowPart, true)) {
			part = minOf(part, st.TotalBorrow.ToBase(closable, false))
		}
		if len(req.MaxBorrowParts) > 0 && !isZero(req.MaxBorrowParts[i]) {
			part = minOf(part, req.MaxBorrowParts[i])
		}
		if isZero(part) {
			result.Accounts = append(result.Accounts, entry)
			continue
		}
		reward := m.liquidatorReward(st, pos, rate, st.TotalBorrow.ToElastic(part, true))
		amount := st.TotalBorrow.Sub(part, true)
		pos.BorrowPart = subFloor(pos.BorrowPart, part)

		collateralAmount := mulDiv(add(amount, reward), rate, ExchangeRatePrecision)
		seized := minOf(m.ledger.ToShare(m.collateralID, collateralAmount, false), pos.CollateralShare)
		pos.CollateralShare = subFloor(pos.CollateralShare, seized)
		st.TotalCollateralShare = subFloor(st.TotalCollateralShare, seized)
		if err := m.StorePosition(account, pos); err != nil {
			return nil, err
		}

		entry.Skipped = false
		entry.Part = part
		entry.Amount = amount
		entry.Reward = reward
		entry.CollateralShare = seized
		result.Accounts = append(result.Accounts, entry)
		result.BorrowAmount = add(result.BorrowAmount, amount)
		result.CollateralShare = add(result.CollateralShare, seized)

		m.state.Emit(events.LendingLiquidated{
			Market:          m.address,
			Liquidator:      req.Liquidator,
			Account:         account,
			Receiver:        receiverAddr,
			Part:            clone(part),
			Amount:          clone(amount),
			Reward:          clone(reward),
			CollateralShare: clone(seized),
		})
	}
	if isZero(result.BorrowAmount) {
		return result, nil
	}

	result.BorrowShare = m.ledger.ToShare(m.assetID, result.BorrowAmount, true)
	st.TotalAsset.Elastic = add(st.TotalAsset.Elastic, result.BorrowShare)
	if err := m.saveState(st); err != nil {
		return nil, err
	}

	// Phase 2: settle with the liquidator or the receiver.
	if req.Receiver == nil {
		if err := m.ledger.TransferShares(m.assetID, req.Liquidator, m.address, result.BorrowShare); err != nil {
			return nil, fmt.Errorf("lending: pull liquidation repayment: %w", err)
		}
		if err := m.ledger.TransferShares(m.collateralID, m.address, req.Liquidator, result.CollateralShare); err != nil {
			return nil, fmt.Errorf("lending: pay seized collateral: %w", err)
		}
	} else {
		surplus, err := settleWithSwapper(ctx, m, req, result)
		if err != nil {
			return nil, err
		}
		result.Surplus = surplus
	}

	// The receiver may have re-entered the market; continue from the
	// persisted record.
	fresh, err := m.LoadState()
	if err != nil {
		return nil, err
	}
	*st = *fresh
	m.logger.Info("liquidation settled",
		slog.String("liquidator", req.Liquidator.String()),
		slog.Int("accounts", result.Liquidated()),
		slog.String("borrowAmount", result.BorrowAmount.Dec()),
		slog.String("collateralShare", result.CollateralShare.Dec()))
	return result, nil
}

func settleWithSwapper(ctx context.Context, m *Market, req LiquidationRequest, result *LiquidationResult) (*uint256.Int, error) {
	st, err := m.LoadState()
	if err != nil {
		return nil, err
	}
	mark := m.markBooks(st)
	if err := m.ledger.TransferShares(m.collateralID, m.address, req.Receiver.Address(), result.CollateralShare); err != nil {
		return nil, fmt.Errorf("lending: hand off collateral: %w", err)
	}
	_, _, err = req.Receiver.Swap(ctx, SwapRequest{
		AssetIn:      m.collateralID,
		AssetOut:     m.assetID,
		ShareIn:      clone(result.CollateralShare),
		MinAmountOut: clone(result.BorrowAmount),
		To:           m.address,
		Data:         req.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSwapInsufficient, err)
	}
	// Repayments the receiver makes on the market during the swap are
	// booked by Repay and are not proceeds.
	gained, _, err := m.inflowSince(mark, zero())
	if err != nil {
		return nil, err
	}
	if gained.Lt(result.BorrowShare) {
		return nil, fmt.Errorf("%w: received %s shares, need %s", ErrSwapInsufficient, gained.Dec(), result.BorrowShare.Dec())
	}
	surplus := subFloor(gained, result.BorrowShare)
	if !isZero(surplus) {
		if err := m.ledger.TransferShares(m.assetID, m.address, req.Liquidator, surplus); err != nil {
			return nil, fmt.Errorf("lending: pay liquidator surplus: %w", err)
		}
	}
	return surplus, nil
}
