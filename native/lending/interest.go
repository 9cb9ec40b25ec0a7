package lending

import (
	"fmt"

	"github.com/holiman/uint256"
)

// RateSnapshot carries the post-accrual market figures a rate model reacts to.
type RateSnapshot struct {
	// Utilization is borrowed / (idle + borrowed), scaled by 1e18.
	Utilization *uint256.Int
	// TotalDebt is totalBorrow.elastic.
	TotalDebt *uint256.Int
	// HasBorrowers is false when totalBorrow.base is zero.
	HasBorrowers bool
}

// InterestModel derives the per-second interest rate (1e18 = 100% per second)
// stored in AccrueInfo.
type InterestModel interface {
	Kind() string
	// Initial is the rate stored when the market is initialized.
	Initial() *uint256.Int
	// Next returns the rate to store after elapsed seconds at snap. elapsed is
	// zero when the rate is refreshed after new debt.
	Next(current *uint256.Int, snap RateSnapshot, elapsed uint64) *uint256.Int
}

const (
	ModelUtilization = "utilization"
	ModelDebtRate    = "debt_rate"
)

var (
	utilizationPrecision = uint256.NewInt(1_000_000_000_000_000_000)
	factorPrecision      = uint256.NewInt(1_000_000_000_000_000_000)
	// 28800e36
	defaultElasticity = new(uint256.Int).Mul(uint256.NewInt(28_800), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(36)))
)

// UtilizationModel keeps utilization inside a target band by nudging the rate
// up or down, proportionally to the squared distance from the band and the
// elapsed time.
type UtilizationModel struct {
	MinimumTargetUtilization *uint256.Int
	MaximumTargetUtilization *uint256.Int
	StartingRate             *uint256.Int
	MinimumRate              *uint256.Int
	MaximumRate              *uint256.Int
	Elasticity               *uint256.Int
}

// DefaultUtilizationModel targets 70%-80% utilization, starts near 1% APR and
// moves between 0.25% and 1000% APR.
func DefaultUtilizationModel() *UtilizationModel {
	return &UtilizationModel{
		MinimumTargetUtilization: uint256.NewInt(700_000_000_000_000_000),
		MaximumTargetUtilization: uint256.NewInt(800_000_000_000_000_000),
		StartingRate:             uint256.NewInt(317_097_920),
		MinimumRate:              uint256.NewInt(79_274_480),
		MaximumRate:              uint256.NewInt(317_097_920_000),
		Elasticity:               clone(defaultElasticity),
	}
}

// Validate checks the band and the rate bounds.
func (u *UtilizationModel) Validate() error {
	if u == nil {
		return fmt.Errorf("%w: nil utilization model", ErrInvalidParameter)
	}
	switch {
	case isZero(u.MinimumTargetUtilization) || !u.MinimumTargetUtilization.Lt(clone(u.MaximumTargetUtilization)):
		return fmt.Errorf("%w: target band", ErrInvalidParameter)
	case !u.MaximumTargetUtilization.Lt(utilizationPrecision):
		return fmt.Errorf("%w: maximum target utilization must be below 100%%", ErrInvalidParameter)
	case isZero(u.MinimumRate) || clone(u.MaximumRate).Lt(u.MinimumRate):
		return fmt.Errorf("%w: rate bounds", ErrInvalidParameter)
	case clone(u.StartingRate).Lt(u.MinimumRate) || clone(u.MaximumRate).Lt(clone(u.StartingRate)):
		return fmt.Errorf("%w: starting rate outside bounds", ErrInvalidParameter)
	case isZero(u.Elasticity):
		return fmt.Errorf("%w: elasticity", ErrInvalidParameter)
	}
	return nil
}

func (u *UtilizationModel) Kind() string { return ModelUtilization }

func (u *UtilizationModel) Initial() *uint256.Int { return clone(u.StartingRate) }

func (u *UtilizationModel) Next(current *uint256.Int, snap RateSnapshot, elapsed uint64) *uint256.Int {
	if !snap.HasBorrowers {
		return clone(u.StartingRate)
	}
	rate := clone(current)
	utilization := clone(snap.Utilization)
	elapsedU := u64(elapsed)
	switch {
	case utilization.Lt(u.MinimumTargetUtilization):
		under := mulDiv(subFloor(u.MinimumTargetUtilization, utilization), factorPrecision, u.MinimumTargetUtilization)
		scale := add(u.Elasticity, mul(mul(under, under), elapsedU))
		rate = mulDiv(rate, u.Elasticity, scale)
		if rate.Lt(u.MinimumRate) {
			rate = clone(u.MinimumRate)
		}
	case utilization.Gt(u.MaximumTargetUtilization):
		span := subFloor(utilizationPrecision, u.MaximumTargetUtilization)
		over := mulDiv(subFloor(utilization, u.MaximumTargetUtilization), factorPrecision, span)
		scale := add(u.Elasticity, mul(mul(over, over), elapsedU))
		rate = mulDiv(rate, scale, u.Elasticity)
		if rate.Gt(u.MaximumRate) {
			rate = clone(u.MaximumRate)
		}
	}
	return rate
}
