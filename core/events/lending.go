package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"lendcore/core/types"
	"lendcore/crypto"
)

const (
	TypeLendingCollateralAdded   = "lending.collateral_added"
	TypeLendingCollateralRemoved = "lending.collateral_removed"
	TypeLendingBorrowed          = "lending.borrowed"
	TypeLendingRepaid            = "lending.repaid"
	TypeLendingAssetAdded        = "lending.asset_added"
	TypeLendingAssetRemoved      = "lending.asset_removed"
	TypeLendingAccrued           = "lending.accrued"
	TypeLendingExchangeRate      = "lending.exchange_rate"
	TypeLendingLiquidated        = "lending.liquidated"
	TypeLendingFlashLoan         = "lending.flash_loan"
	TypeLendingPauseUpdated      = "lending.pause_updated"
	TypeLendingConfigUpdated     = "lending.config_updated"
	TypeLendingFeesWithdrawn     = "lending.fees_withdrawn"
	TypeLendingOperatorApproval  = "lending.operator_approval"
)

// LendingCollateralAdded records collateral shares credited to a position.
type LendingCollateralAdded struct {
	Market crypto.Address
	From   crypto.Address
	To     crypto.Address
	Share  *uint256.Int
}

func (LendingCollateralAdded) EventType() string { return TypeLendingCollateralAdded }

func (e LendingCollateralAdded) Event() *types.Event {
	return &types.Event{Type: TypeLendingCollateralAdded, Attributes: map[string]string{
		"market": addressString(e.Market),
		"from":   addressString(e.From),
		"to":     addressString(e.To),
		"share":  amountString(e.Share),
	}}
}

// LendingCollateralRemoved records collateral shares released from a position.
type LendingCollateralRemoved struct {
	Market crypto.Address
	From   crypto.Address
	To     crypto.Address
	Share  *uint256.Int
}

func (LendingCollateralRemoved) EventType() string { return TypeLendingCollateralRemoved }

func (e LendingCollateralRemoved) Event() *types.Event {
	return &types.Event{Type: TypeLendingCollateralRemoved, Attributes: map[string]string{
		"market": addressString(e.Market),
		"from":   addressString(e.From),
		"to":     addressString(e.To),
		"share":  amountString(e.Share),
	}}
}

// LendingBorrowed records new debt. Fee is the opening fee added to the debt.
type LendingBorrowed struct {
	Market crypto.Address
	From   crypto.Address
	To     crypto.Address
	Amount *uint256.Int
	Fee    *uint256.Int
	Part   *uint256.Int
}

func (LendingBorrowed) EventType() string { return TypeLendingBorrowed }

func (e LendingBorrowed) Event() *types.Event {
	return &types.Event{Type: TypeLendingBorrowed, Attributes: map[string]string{
		"market": addressString(e.Market),
		"from":   addressString(e.From),
		"to":     addressString(e.To),
		"amount": amountString(e.Amount),
		"fee":    amountString(e.Fee),
		"part":   amountString(e.Part),
	}}
}

// LendingRepaid records debt reduction.
type LendingRepaid struct {
	Market crypto.Address
	From   crypto.Address
	To     crypto.Address
	Amount *uint256.Int
	Part   *uint256.Int
}

func (LendingRepaid) EventType() string { return TypeLendingRepaid }

func (e LendingRepaid) Event() *types.Event {
	return &types.Event{Type: TypeLendingRepaid, Attributes: map[string]string{
		"market": addressString(e.Market),
		"from":   addressString(e.From),
		"to":     addressString(e.To),
		"amount": amountString(e.Amount),
		"part":   amountString(e.Part),
	}}
}

// LendingAssetAdded records a lender deposit.
type LendingAssetAdded struct {
	Market   crypto.Address
	From     crypto.Address
	To       crypto.Address
	Share    *uint256.Int
	Fraction *uint256.Int
}

func (LendingAssetAdded) EventType() string { return TypeLendingAssetAdded }

func (e LendingAssetAdded) Event() *types.Event {
	return &types.Event{Type: TypeLendingAssetAdded, Attributes: map[string]string{
		"market":   addressString(e.Market),
		"from":     addressString(e.From),
		"to":       addressString(e.To),
		"share":    amountString(e.Share),
		"fraction": amountString(e.Fraction),
	}}
}

// LendingAssetRemoved records a lender withdrawal.
type LendingAssetRemoved struct {
	Market   crypto.Address
	From     crypto.Address
	To       crypto.Address
	Share    *uint256.Int
	Fraction *uint256.Int
}

func (LendingAssetRemoved) EventType() string { return TypeLendingAssetRemoved }

func (e LendingAssetRemoved) Event() *types.Event {
	return &types.Event{Type: TypeLendingAssetRemoved, Attributes: map[string]string{
		"market":   addressString(e.Market),
		"from":     addressString(e.From),
		"to":       addressString(e.To),
		"share":    amountString(e.Share),
		"fraction": amountString(e.Fraction),
	}}
}

// LendingAccrued records one interest roll-forward.
type LendingAccrued struct {
	Market            crypto.Address
	Accrued           *uint256.Int
	FeeFraction       *uint256.Int
	InterestPerSecond *uint256.Int
	Utilization       *uint256.Int
	Timestamp         uint64
}

func (LendingAccrued) EventType() string { return TypeLendingAccrued }

func (e LendingAccrued) Event() *types.Event {
	return &types.Event{Type: TypeLendingAccrued, Attributes: map[string]string{
		"market":            addressString(e.Market),
		"accrued":           amountString(e.Accrued),
		"feeFraction":       amountString(e.FeeFraction),
		"interestPerSecond": amountString(e.InterestPerSecond),
		"utilization":       amountString(e.Utilization),
		"timestamp":         uintString(e.Timestamp),
	}}
}

// LendingExchangeRate records a refreshed oracle rate.
type LendingExchangeRate struct {
	Market crypto.Address
	Rate   *uint256.Int
}

func (LendingExchangeRate) EventType() string { return TypeLendingExchangeRate }

func (e LendingExchangeRate) Event() *types.Event {
	return &types.Event{Type: TypeLendingExchangeRate, Attributes: map[string]string{
		"market": addressString(e.Market),
		"rate":   amountString(e.Rate),
	}}
}

// LendingLiquidated records one liquidated account.
type LendingLiquidated struct {
	Market          crypto.Address
	Liquidator      crypto.Address
	Account         crypto.Address
	Receiver        crypto.Address
	Part            *uint256.Int
	Amount          *uint256.Int
	Reward          *uint256.Int
	CollateralShare *uint256.Int
}

func (LendingLiquidated) EventType() string { return TypeLendingLiquidated }

func (e LendingLiquidated) Event() *types.Event {
	return &types.Event{Type: TypeLendingLiquidated, Attributes: map[string]string{
		"market":          addressString(e.Market),
		"liquidator":      addressString(e.Liquidator),
		"account":         addressString(e.Account),
		"receiver":        addressString(e.Receiver),
		"part":            amountString(e.Part),
		"amount":          amountString(e.Amount),
		"reward":          amountString(e.Reward),
		"collateralShare": amountString(e.CollateralShare),
	}}
}

// LendingFlashLoan records a repaid flash loan.
type LendingFlashLoan struct {
	Market   crypto.Address
	Sender   crypto.Address
	Receiver crypto.Address
	Amount   *uint256.Int
	Fee      *uint256.Int
}

func (LendingFlashLoan) EventType() string { return TypeLendingFlashLoan }

func (e LendingFlashLoan) Event() *types.Event {
	return &types.Event{Type: TypeLendingFlashLoan, Attributes: map[string]string{
		"market":   addressString(e.Market),
		"sender":   addressString(e.Sender),
		"receiver": addressString(e.Receiver),
		"amount":   amountString(e.Amount),
		"fee":      amountString(e.Fee),
	}}
}

// LendingPauseUpdated records a conservator toggle.
type LendingPauseUpdated struct {
	Market      crypto.Address
	Conservator crypto.Address
	Paused      bool
}

func (LendingPauseUpdated) EventType() string { return TypeLendingPauseUpdated }

func (e LendingPauseUpdated) Event() *types.Event {
	return &types.Event{Type: TypeLendingPauseUpdated, Attributes: map[string]string{
		"market":      addressString(e.Market),
		"conservator": addressString(e.Conservator),
		"paused":      strconv.FormatBool(e.Paused),
	}}
}

// LendingConfigUpdated records an admin setter call.
type LendingConfigUpdated struct {
	Market crypto.Address
	Field  string
	Value  string
}

func (LendingConfigUpdated) EventType() string { return TypeLendingConfigUpdated }

func (e LendingConfigUpdated) Event() *types.Event {
	return &types.Event{Type: TypeLendingConfigUpdated, Attributes: map[string]string{
		"market": addressString(e.Market),
		"field":  e.Field,
		"value":  e.Value,
	}}
}

// LendingFeesWithdrawn records protocol fees routed to the treasury.
type LendingFeesWithdrawn struct {
	Market   crypto.Address
	To       crypto.Address
	Fraction *uint256.Int
	Share    *uint256.Int
}

func (LendingFeesWithdrawn) EventType() string { return TypeLendingFeesWithdrawn }

func (e LendingFeesWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeLendingFeesWithdrawn, Attributes: map[string]string{
		"market":   addressString(e.Market),
		"to":       addressString(e.To),
		"fraction": amountString(e.Fraction),
		"share":    amountString(e.Share),
	}}
}

// LendingOperatorApproval records a market operator grant or revocation.
type LendingOperatorApproval struct {
	Market   crypto.Address
	Owner    crypto.Address
	Operator crypto.Address
	Approved bool
}

func (LendingOperatorApproval) EventType() string { return TypeLendingOperatorApproval }

func (e LendingOperatorApproval) Event() *types.Event {
	return &types.Event{Type: TypeLendingOperatorApproval, Attributes: map[string]string{
		"market":   addressString(e.Market),
		"owner":    addressString(e.Owner),
		"operator": addressString(e.Operator),
		"approved": strconv.FormatBool(e.Approved),
	}}
}
