package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"lendcore/crypto"
)

// AssetID identifies a (token, strategy) pair inside the shared ledger.
type AssetID uint32

// Position is the per-account state of one market.
type Position struct {
	// CollateralShare is measured in ledger shares of the collateral asset.
	CollateralShare *uint256.Int
	// BorrowPart is measured in totalBorrow base units.
	BorrowPart *uint256.Int
	// AssetFraction is the lender balance in totalAsset base units.
	AssetFraction *uint256.Int
}

// NewPosition returns a zeroed position.
func NewPosition() *Position {
	return &Position{CollateralShare: zero(), BorrowPart: zero(), AssetFraction: zero()}
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	if p == nil {
		return NewPosition()
	}
	return &Position{
		CollateralShare: clone(p.CollateralShare),
		BorrowPart:      clone(p.BorrowPart),
		AssetFraction:   clone(p.AssetFraction),
	}
}

// IsEmpty reports whether every field is zero.
func (p *Position) IsEmpty() bool {
	return p == nil || (isZero(p.CollateralShare) && isZero(p.BorrowPart) && isZero(p.AssetFraction))
}

func (p *Position) normalize() {
	if p.CollateralShare == nil {
		p.CollateralShare = zero()
	}
	if p.BorrowPart == nil {
		p.BorrowPart = zero()
	}
	if p.AssetFraction == nil {
		p.AssetFraction = zero()
	}
}

// AccrueInfo tracks the interest roll-forward.
type AccrueInfo struct {
	LastAccrued        uint64
	InterestPerSecond  *uint256.Int
	FeesEarnedFraction *uint256.Int
}

// MarketConfig holds the tunable risk and fee parameters of a market. Every
// fraction uses FeePrecision.
type MarketConfig struct {
	CollateralizationRate            uint64
	LiquidationCollateralizationRate uint64
	// LiquidationMultiplier widens the closing factor so a liquidation moves
	// the position back under the collateralization rate.
	LiquidationMultiplier uint64
	MinLiquidatorReward   uint64
	MaxLiquidatorReward   uint64
	// TotalBorrowCap of zero disables the cap.
	TotalBorrowCap *uint256.Int
	BorrowingFee   uint64
	ProtocolFee    uint64
	FlashLoanFee   uint64
	Paused         bool
	Conservator    crypto.Address
}

const (
	maxBorrowingFee = 50_000
	maxProtocolFee  = 50_000
	maxFlashLoanFee = 10_000
)

// DefaultMarketConfig returns conservative defaults.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		CollateralizationRate:            75_000,
		LiquidationCollateralizationRate: 80_000,
		LiquidationMultiplier:            12_000,
		MinLiquidatorReward:              1_000,
		MaxLiquidatorReward:              10_000,
		TotalBorrowCap:                   zero(),
		BorrowingFee:                     500,
		ProtocolFee:                      10_000,
		FlashLoanFee:                     90,
	}
}

// Clone returns a deep copy.
func (c MarketConfig) Clone() MarketConfig {
	out := c
	out.TotalBorrowCap = clone(c.TotalBorrowCap)
	return out
}

// Validate checks every bound.
func (c MarketConfig) Validate() error {
	switch {
	case c.CollateralizationRate == 0 || c.CollateralizationRate > FeePrecision:
		return fmt.Errorf("%w: collateralization rate %d", ErrInvalidParameter, c.CollateralizationRate)
	case c.LiquidationCollateralizationRate < c.CollateralizationRate || c.LiquidationCollateralizationRate > FeePrecision:
		return fmt.Errorf("%w: liquidation collateralization rate %d", ErrInvalidParameter, c.LiquidationCollateralizationRate)
	case c.LiquidationMultiplier > FeePrecision:
		return fmt.Errorf("%w: liquidation multiplier %d", ErrInvalidParameter, c.LiquidationMultiplier)
	case c.MaxLiquidatorReward > FeePrecision || c.MinLiquidatorReward > c.MaxLiquidatorReward:
		return fmt.Errorf("%w: liquidator reward bounds %d..%d", ErrInvalidParameter, c.MinLiquidatorReward, c.MaxLiquidatorReward)
	case c.BorrowingFee > maxBorrowingFee:
		return fmt.Errorf("%w: borrowing fee %d", ErrInvalidParameter, c.BorrowingFee)
	case c.ProtocolFee > maxProtocolFee:
		return fmt.Errorf("%w: protocol fee %d", ErrInvalidParameter, c.ProtocolFee)
	case c.FlashLoanFee > maxFlashLoanFee:
		return fmt.Errorf("%w: flash loan fee %d", ErrInvalidParameter, c.FlashLoanFee)
	}
	return nil
}

// MarketState is the persisted record of a market.
type MarketState struct {
	Initialized          bool
	TotalAsset           Rebase
	TotalBorrow          Rebase
	TotalCollateralShare *uint256.Int
	Accrue               AccrueInfo
	ExchangeRate         *uint256.Int
	Config               MarketConfig
}

// Clone returns a deep copy.
func (s *MarketState) Clone() *MarketState {
	if s == nil {
		return nil
	}
	return &MarketState{
		Initialized:          s.Initialized,
		TotalAsset:           s.TotalAsset.Clone(),
		TotalBorrow:          s.TotalBorrow.Clone(),
		TotalCollateralShare: clone(s.TotalCollateralShare),
		Accrue: AccrueInfo{
			LastAccrued:        s.Accrue.LastAccrued,
			InterestPerSecond:  clone(s.Accrue.InterestPerSecond),
			FeesEarnedFraction: clone(s.Accrue.FeesEarnedFraction),
		},
		ExchangeRate: clone(s.ExchangeRate),
		Config:       s.Config.Clone(),
	}
}

func (s *MarketState) normalize() {
	s.TotalAsset.normalize()
	s.TotalBorrow.normalize()
	if s.TotalCollateralShare == nil {
		s.TotalCollateralShare = zero()
	}
	if s.Accrue.InterestPerSecond == nil {
		s.Accrue.InterestPerSecond = zero()
	}
	if s.Accrue.FeesEarnedFraction == nil {
		s.Accrue.FeesEarnedFraction = zero()
	}
	if s.ExchangeRate == nil {
		s.ExchangeRate = zero()
	}
	if s.Config.TotalBorrowCap == nil {
		s.Config.TotalBorrowCap = zero()
	}
}
