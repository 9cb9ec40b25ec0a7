package lending

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
)

// ModuleKind names a pluggable capability of a market.
type ModuleKind uint8

const (
	ModuleLendingBorrowing ModuleKind = iota + 1
	ModuleLiquidation
)

func (k ModuleKind) String() string {
	switch k {
	case ModuleLendingBorrowing:
		return "lending_borrowing"
	case ModuleLiquidation:
		return "liquidation"
	default:
		return fmt.Sprintf("module(%d)", uint8(k))
	}
}

// Module is a capability plugged into a market's dispatch table.
type Module interface {
	Kind() ModuleKind
}

// LendingBorrowingModule implements collateral and debt bookkeeping. Methods
// run inside the market's atomic scope with interest already accrued; st is
// persisted by the market after the call returns.
type LendingBorrowingModule interface {
	Module
	AddCollateral(ctx context.Context, m *Market, st *MarketState, from, to crypto.Address, share *uint256.Int) error
	RemoveCollateral(ctx context.Context, m *Market, st *MarketState, from, to crypto.Address, share *uint256.Int) error
	Borrow(ctx context.Context, m *Market, st *MarketState, from, to crypto.Address, amount *uint256.Int) (part, share *uint256.Int, err error)
	Repay(ctx context.Context, m *Market, st *MarketState, from, to crypto.Address, partPayment bool, value *uint256.Int) (amount, part *uint256.Int, err error)
	AmountToSolvency(m *Market, st *MarketState, account crypto.Address, rate *uint256.Int) (*uint256.Int, error)
}

// LiquidationModule implements liquidation. Implementations must persist all
// market state before handing control to an external receiver and leave st
// reflecting the persisted record on return.
type LiquidationModule interface {
	Module
	Liquidate(ctx context.Context, m *Market, st *MarketState, req LiquidationRequest) (*LiquidationResult, error)
}

// SetModule installs or replaces a capability. Authority only.
func (m *Market) SetModule(ctx context.Context, module Module) error {
	if err := m.requireAuthority(ctx); err != nil {
		return err
	}
	if module == nil {
		return fmt.Errorf("%w: nil module", ErrInvalidParameter)
	}
	switch module.Kind() {
	case ModuleLendingBorrowing:
		if _, ok := module.(LendingBorrowingModule); !ok {
			return fmt.Errorf("%w: module does not implement lending/borrowing", ErrInvalidParameter)
		}
	case ModuleLiquidation:
		if _, ok := module.(LiquidationModule); !ok {
			return fmt.Errorf("%w: module does not implement liquidation", ErrInvalidParameter)
		}
	default:
		return fmt.Errorf("%w: unknown module kind %s", ErrInvalidParameter, module.Kind())
	}
	m.modules[module.Kind()] = module
	m.state.Emit(events.LendingConfigUpdated{Market: m.address, Field: "module", Value: module.Kind().String()})
	return nil
}

// ClearModule removes a capability. Authority only.
func (m *Market) ClearModule(ctx context.Context, kind ModuleKind) error {
	if err := m.requireAuthority(ctx); err != nil {
		return err
	}
	delete(m.modules, kind)
	return nil
}

// HasModule reports whether kind is wired.
func (m *Market) HasModule(kind ModuleKind) bool {
	_, ok := m.modules[kind]
	return ok
}

func (m *Market) lendingModule() (LendingBorrowingModule, error) {
	module, ok := m.modules[ModuleLendingBorrowing].(LendingBorrowingModule)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotSet, ModuleLendingBorrowing)
	}
	return module, nil
}

func (m *Market) liquidationModule() (LiquidationModule, error) {
	module, ok := m.modules[ModuleLiquidation].(LiquidationModule)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotSet, ModuleLiquidation)
	}
	return module, nil
}

// DefaultModules returns the stock lending/borrowing and liquidation modules.
func DefaultModules() []Module {
	return []Module{LendingBorrowing{}, Liquidation{}}
}

// AddCollateral moves share collateral shares from the ledger balance of from
// into the position of to.
func (m *Market) AddCollateral(ctx context.Context, from, to crypto.Address, share *uint256.Int) error {
	module, err := m.lendingModule()
	if err != nil {
		return err
	}
	return m.run("add_collateral", func() error {
		st, err := m.positionPreamble(ctx, from, to)
		if err != nil {
			return err
		}
		if err := module.AddCollateral(ctx, m, st, from, to, share); err != nil {
			return err
		}
		return m.saveState(st)
	})
}

// RemoveCollateral releases collateral shares of from to the ledger balance of
// to. The position must remain solvent.
func (m *Market) RemoveCollateral(ctx context.Context, from, to crypto.Address, share *uint256.Int) error {
	module, err := m.lendingModule()
	if err != nil {
		return err
	}
	return m.run("remove_collateral", func() error {
		st, err := m.positionPreamble(ctx, from, to)
		if err != nil {
			return err
		}
		m.updateExchangeRate(ctx, st)
		if err := module.RemoveCollateral(ctx, m, st, from, to, share); err != nil {
			return err
		}
		return m.saveState(st)
	})
}

// Borrow opens amount of debt for from and pays it to to. It returns the
// borrow part added and the ledger shares paid out.
func (m *Market) Borrow(ctx context.Context, from, to crypto.Address, amount *uint256.Int) (part, share *uint256.Int, err error) {
	module, err := m.lendingModule()
	if err != nil {
		return nil, nil, err
	}
	err = m.run("borrow", func() error {
		st, err := m.positionPreamble(ctx, from, to)
		if err != nil {
			return err
		}
		m.updateExchangeRate(ctx, st)
		part, share, err = module.Borrow(ctx, m, st, from, to, amount)
		if err != nil {
			return err
		}
		m.refreshRate(st)
		return m.saveState(st)
	})
	if err != nil {
		return nil, nil, err
	}
	return part, share, nil
}

// Repay reduces the debt of to, pulling funds from from. With partPayment the
// value is a borrow part, otherwise an amount of the borrowed asset.
func (m *Market) Repay(ctx context.Context, from, to crypto.Address, partPayment bool, value *uint256.Int) (amount, part *uint256.Int, err error) {
	module, err := m.lendingModule()
	if err != nil {
		return nil, nil, err
	}
	err = m.run("repay", func() error {
		st, err := m.positionPreamble(ctx, from, to)
		if err != nil {
			return err
		}
		amount, part, err = module.Repay(ctx, m, st, from, to, partPayment, value)
		if err != nil {
			return err
		}
		return m.saveState(st)
	})
	if err != nil {
		return nil, nil, err
	}
	return amount, part, nil
}

// ComputeAssetAmountToSolvency returns how much of the borrowed asset account
// must repay to pass the borrow solvency check at rate.
func (m *Market) ComputeAssetAmountToSolvency(account crypto.Address, rate *uint256.Int) (*uint256.Int, error) {
	module, err := m.lendingModule()
	if err != nil {
		return nil, err
	}
	st, err := m.LoadState()
	if err != nil {
		return nil, err
	}
	return module.AmountToSolvency(m, st, account, rate)
}

// positionPreamble loads state, applies the pause guard, authorizes the
// debited account and accrues.
func (m *Market) positionPreamble(ctx context.Context, from, to crypto.Address) (*MarketState, error) {
	st, err := m.LoadState()
	if err != nil {
		return nil, err
	}
	if err := m.guard(st); err != nil {
		return nil, err
	}
	if to.IsZero() {
		return nil, fmt.Errorf("%w: recipient required", ErrInvalidParameter)
	}
	if err := m.authorize(ctx, from); err != nil {
		return nil, err
	}
	m.accrue(st)
	return st, nil
}
