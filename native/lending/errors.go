package lending

import "errors"

var (
	ErrInsolvent              = errors.New("lending: position insolvent")
	ErrBorrowCapReached       = errors.New("lending: borrow cap reached")
	ErrInsufficientFunds      = errors.New("lending: insufficient funds")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrMarketPaused           = errors.New("lending: market paused")
	ErrInvalidSwapper         = errors.New("lending: invalid swapper")
	ErrSwapInsufficient       = errors.New("lending: swap returned insufficient amount")
	ErrAlreadyInitialized     = errors.New("lending: market already initialized")
	ErrNotInitialized         = errors.New("lending: market not initialized")
	ErrModuleNotSet           = errors.New("lending: module not set")
	ErrInvalidParameter       = errors.New("lending: invalid parameter")
	ErrOracleUnavailable      = errors.New("lending: oracle unavailable")
	ErrUnauthorized           = errors.New("lending: unauthorized")
)
