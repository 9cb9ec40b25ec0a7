package lending

import (
	"github.com/holiman/uint256"

	"lendcore/crypto"
)

// collateralLimit returns the collateral amount backing pos, scaled by
// ExchangeRatePrecision and weighted by rate/FeePrecision. It is directly
// comparable with debt * exchangeRate.
func (m *Market) collateralLimit(pos *Position, rate uint64) *uint256.Int {
	amount := m.ledger.ToAmount(m.collateralID, pos.CollateralShare, false)
	return mul(mul(amount, exchangeRatePerFee), u64(rate))
}

// isSolvent checks collateral * rate_pct >= debt * exchangeRate. The borrow
// check uses the collateralization rate, the liquidation check the
// liquidation collateralization rate.
func (m *Market) isSolvent(st *MarketState, pos *Position, exchangeRate *uint256.Int, liquidation bool) bool {
	if isZero(pos.BorrowPart) {
		return true
	}
	if isZero(pos.CollateralShare) || isZero(exchangeRate) {
		return false
	}
	rate := st.Config.CollateralizationRate
	if liquidation {
		rate = st.Config.LiquidationCollateralizationRate
	}
	borrowed := mulDiv(mul(pos.BorrowPart, st.TotalBorrow.Elastic), exchangeRate, st.TotalBorrow.Base)
	return !m.collateralLimit(pos, rate).Lt(borrowed)
}

// IsSolvent evaluates account against the cached exchange rate.
func (m *Market) IsSolvent(account crypto.Address, liquidation bool) (bool, error) {
	st, err := m.LoadState()
	if err != nil {
		return false, err
	}
	pos, err := m.LoadPosition(account)
	if err != nil {
		return false, err
	}
	return m.isSolvent(st, pos, st.ExchangeRate, liquidation), nil
}

// IsSolventAt evaluates account against an explicit exchange rate.
func (m *Market) IsSolventAt(account crypto.Address, exchangeRate *uint256.Int, liquidation bool) (bool, error) {
	st, err := m.LoadState()
	if err != nil {
		return false, err
	}
	pos, err := m.LoadPosition(account)
	if err != nil {
		return false, err
	}
	return m.isSolvent(st, pos, exchangeRate, liquidation), nil
}

// collateralInAsset values the position's collateral in the borrowed asset.
func (m *Market) collateralInAsset(pos *Position, exchangeRate *uint256.Int) *uint256.Int {
	amount := m.ledger.ToAmount(m.collateralID, pos.CollateralShare, false)
	return mulDiv(amount, ExchangeRatePrecision, exchangeRate)
}

// closingFactor is the debt amount one liquidation may close. It is zero
// until the debt crosses the liquidation threshold, then the amount that
// brings the position back under the collateralization rate once the
// liquidation multiplier is paid, saturating at the whole debt.
func (m *Market) closingFactor(st *MarketState, pos *Position, exchangeRate *uint256.Int) *uint256.Int {
	if isZero(pos.BorrowPart) || isZero(exchangeRate) {
		return zero()
	}
	debt := st.TotalBorrow.ToElastic(pos.BorrowPart, true)
	collateral := m.collateralInAsset(pos, exchangeRate)
	cfg := st.Config

	startsAt := mulDiv(collateral, u64(cfg.LiquidationCollateralizationRate), feePrecision)
	if !startsAt.Lt(debt) {
		return zero()
	}
	numerator := subFloor(debt, mulDiv(collateral, u64(cfg.CollateralizationRate), feePrecision))
	weighted := mulDiv(u64(cfg.CollateralizationRate), u64(FeePrecision+cfg.LiquidationMultiplier), feePrecision)
	if !weighted.Lt(feePrecision) {
		return debt
	}
	denominator := subFloor(feePrecision, weighted)
	return minOf(mulDiv(numerator, feePrecision, denominator), debt)
}

// liquidatorReward is the bonus, in borrowed asset, paid on top of closed.
// The percentage slides from the maximum reward when the position just
// crossed the threshold to the minimum once debt reaches the collateral
// value, and the bonus never exceeds the collateral left after covering
// closed.
func (m *Market) liquidatorReward(st *MarketState, pos *Position, exchangeRate, closed *uint256.Int) *uint256.Int {
	if isZero(pos.BorrowPart) || isZero(exchangeRate) || isZero(closed) {
		return zero()
	}
	cfg := st.Config
	debt := st.TotalBorrow.ToElastic(pos.BorrowPart, true)
	collateral := m.collateralInAsset(pos, exchangeRate)
	start := mulDiv(collateral, u64(cfg.LiquidationCollateralizationRate), feePrecision)

	pct := u64(cfg.MinLiquidatorReward)
	switch {
	case !debt.Gt(start):
		pct = u64(cfg.MaxLiquidatorReward)
	case debt.Lt(collateral) && start.Lt(collateral):
		progress := mulDiv(subFloor(debt, start), feePrecision, subFloor(collateral, start))
		spread := u64(cfg.MaxLiquidatorReward - cfg.MinLiquidatorReward)
		pct = subFloor(u64(cfg.MaxLiquidatorReward), mulDiv(spread, progress, feePrecision))
	}
	reward := mulDiv(closed, pct, feePrecision)
	return minOf(reward, subFloor(collateral, closed))
}

// ComputeClosingFactor returns the borrowed-asset amount of account that a
// single liquidation may close at exchangeRate.
func (m *Market) ComputeClosingFactor(account crypto.Address, exchangeRate *uint256.Int) (*uint256.Int, error) {
	st, err := m.LoadState()
	if err != nil {
		return nil, err
	}
	pos, err := m.LoadPosition(account)
	if err != nil {
		return nil, err
	}
	if isZero(exchangeRate) {
		exchangeRate = st.ExchangeRate
	}
	return m.closingFactor(st, pos, exchangeRate), nil
}

// ComputeLiquidatorReward returns the bonus a liquidator earns for closing the
// account's full closing factor at exchangeRate.
func (m *Market) ComputeLiquidatorReward(account crypto.Address, exchangeRate *uint256.Int) (*uint256.Int, error) {
	st, err := m.LoadState()
	if err != nil {
		return nil, err
	}
	pos, err := m.LoadPosition(account)
	if err != nil {
		return nil, err
	}
	if isZero(exchangeRate) {
		exchangeRate = st.ExchangeRate
	}
	closed := m.closingFactor(st, pos, exchangeRate)
	return m.liquidatorReward(st, pos, exchangeRate, closed), nil
}
