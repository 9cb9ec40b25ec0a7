package lending

import (
	"context"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
)

// UpdatePause toggles the market pause. Only the conservator may call it.
func (m *Market) UpdatePause(ctx context.Context, paused bool) error {
	return m.run("update_pause", func() error {
		st, err := m.LoadState()
		if err != nil {
			return err
		}
		sender := Sender(ctx)
		if st.Config.Conservator.IsZero() || sender != st.Config.Conservator {
			return fmt.Errorf("%w: conservator only", ErrUnauthorized)
		}
		if st.Config.Paused == paused {
			return nil
		}
		st.Config.Paused = paused
		m.state.Emit(events.LendingPauseUpdated{Market: m.address, Conservator: sender, Paused: paused})
		return m.saveState(st)
	})
}

// configure runs an authority-only setter. Interest is accrued first so fee
// changes never apply retroactively.
func (m *Market) configure(ctx context.Context, field string, apply func(cfg *MarketConfig) (string, error)) error {
	if err := m.requireAuthority(ctx); err != nil {
		return err
	}
	return m.run("configure", func() error {
		st, err := m.LoadState()
		if err != nil {
			return err
		}
		m.accrue(st)
		next := st.Config.Clone()
		value, err := apply(&next)
		if err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		st.Config = next
		m.state.Emit(events.LendingConfigUpdated{Market: m.address, Field: field, Value: value})
		return m.saveState(st)
	})
}

// SetBorrowCap sets the total borrow cap; zero removes it.
func (m *Market) SetBorrowCap(ctx context.Context, borrowCap *uint256.Int) error {
	return m.configure(ctx, "totalBorrowCap", func(cfg *MarketConfig) (string, error) {
		cfg.TotalBorrowCap = clone(borrowCap)
		return cfg.TotalBorrowCap.Dec(), nil
	})
}

// SetBorrowingFee sets the opening fee charged on new debt.
func (m *Market) SetBorrowingFee(ctx context.Context, fee uint64) error {
	return m.configure(ctx, "borrowingFee", func(cfg *MarketConfig) (string, error) {
		cfg.BorrowingFee = fee
		return strconv.FormatUint(fee, 10), nil
	})
}

// SetProtocolFee sets the share of interest reserved for the protocol.
func (m *Market) SetProtocolFee(ctx context.Context, fee uint64) error {
	return m.configure(ctx, "protocolFee", func(cfg *MarketConfig) (string, error) {
		cfg.ProtocolFee = fee
		return strconv.FormatUint(fee, 10), nil
	})
}

// SetFlashLoanFee sets the flash loan fee.
func (m *Market) SetFlashLoanFee(ctx context.Context, fee uint64) error {
	return m.configure(ctx, "flashLoanFee", func(cfg *MarketConfig) (string, error) {
		cfg.FlashLoanFee = fee
		return strconv.FormatUint(fee, 10), nil
	})
}

// SetCollateralizationRates sets the borrow and liquidation thresholds.
func (m *Market) SetCollateralizationRates(ctx context.Context, collateralization, liquidation uint64) error {
	return m.configure(ctx, "collateralizationRates", func(cfg *MarketConfig) (string, error) {
		cfg.CollateralizationRate = collateralization
		cfg.LiquidationCollateralizationRate = liquidation
		return fmt.Sprintf("%d/%d", collateralization, liquidation), nil
	})
}

// SetLiquidationParams sets the multiplier and the liquidator reward band.
func (m *Market) SetLiquidationParams(ctx context.Context, multiplier, minReward, maxReward uint64) error {
	return m.configure(ctx, "liquidationParams", func(cfg *MarketConfig) (string, error) {
		cfg.LiquidationMultiplier = multiplier
		cfg.MinLiquidatorReward = minReward
		cfg.MaxLiquidatorReward = maxReward
		return fmt.Sprintf("%d/%d/%d", multiplier, minReward, maxReward), nil
	})
}

// SetConservator sets the account allowed to pause the market.
func (m *Market) SetConservator(ctx context.Context, conservator crypto.Address) error {
	return m.configure(ctx, "conservator", func(cfg *MarketConfig) (string, error) {
		if conservator.IsZero() {
			return "", fmt.Errorf("%w: conservator required", ErrInvalidParameter)
		}
		cfg.Conservator = conservator
		return conservator.String(), nil
	})
}
