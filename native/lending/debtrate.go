package lending

import (
	"fmt"

	"github.com/holiman/uint256"
)

// ReferenceDebt reports the outstanding debt of the reference market.
type ReferenceDebt interface {
	ReferenceDebt() *uint256.Int
}

// DebtRateModel prices debt relative to the reference market. Rates are
// annual, scaled by 1e18 (1e18 = 100% per year), and converted to a
// per-second rate when stored.
//
// The reference market itself always pays MinDebtRate. Every other market
// pays MinDebtRate up to DebtStartPoint of outstanding debt, MaxDebtRate from
// the point where its debt reaches DebtRateAgainstReference (1e18 = 100%) of
// the reference market's debt, and a linear interpolation in between.
type DebtRateModel struct {
	MinDebtRate              *uint256.Int
	MaxDebtRate              *uint256.Int
	DebtRateAgainstReference *uint256.Int
	DebtStartPoint           *uint256.Int
	IsReference              bool
	Reference                ReferenceDebt
}

// DefaultDebtRateModel returns a 0.5%..3.5% curve reaching its maximum when the
// market carries half of the reference market's debt.
func DefaultDebtRateModel(reference ReferenceDebt, isReference bool) *DebtRateModel {
	return &DebtRateModel{
		MinDebtRate:              uint256.NewInt(5_000_000_000_000_000),
		MaxDebtRate:              uint256.NewInt(35_000_000_000_000_000),
		DebtRateAgainstReference: uint256.NewInt(500_000_000_000_000_000),
		DebtStartPoint:           zero(),
		IsReference:              isReference,
		Reference:                reference,
	}
}

// Validate checks the rate bounds.
func (d *DebtRateModel) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil debt rate model", ErrInvalidParameter)
	}
	if clone(d.MaxDebtRate).Lt(clone(d.MinDebtRate)) {
		return fmt.Errorf("%w: debt rate bounds", ErrInvalidParameter)
	}
	if !d.IsReference && d.Reference == nil {
		return fmt.Errorf("%w: debt rate model needs a reference market", ErrInvalidParameter)
	}
	return nil
}

func (d *DebtRateModel) Kind() string { return ModelDebtRate }

func (d *DebtRateModel) Initial() *uint256.Int {
	return perSecond(d.MinDebtRate)
}

func (d *DebtRateModel) Next(_ *uint256.Int, snap RateSnapshot, _ uint64) *uint256.Int {
	return perSecond(d.DebtRate(snap.TotalDebt))
}

// DebtRate returns the annual rate for a market carrying debt.
func (d *DebtRateModel) DebtRate(debt *uint256.Int) *uint256.Int {
	if d.IsReference || isZero(debt) {
		return clone(d.MinDebtRate)
	}
	var referenceDebt *uint256.Int
	if d.Reference != nil {
		referenceDebt = d.Reference.ReferenceDebt()
	}
	maxDebtPoint := mulDiv(referenceDebt, d.DebtRateAgainstReference, ExchangeRatePrecision)
	if !debt.Lt(maxDebtPoint) {
		return clone(d.MaxDebtRate)
	}
	start := clone(d.DebtStartPoint)
	if !start.Lt(debt) {
		return clone(d.MinDebtRate)
	}
	if !start.Lt(maxDebtPoint) {
		return clone(d.MaxDebtRate)
	}
	progress := mulDiv(subFloor(debt, start), ExchangeRatePrecision, subFloor(maxDebtPoint, start))
	spread := subFloor(d.MaxDebtRate, d.MinDebtRate)
	rate := add(mulDiv(spread, progress, ExchangeRatePrecision), d.MinDebtRate)
	if rate.Gt(d.MaxDebtRate) {
		return clone(d.MaxDebtRate)
	}
	return rate
}

func perSecond(annual *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(clone(annual), uint256.NewInt(secondsPerYear))
}
