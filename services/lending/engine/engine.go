package engine

import (
	"context"

	"lendcore/core/types"
	"lendcore/native/lending"
	"lendcore/native/registry"
)

// Engine describes the operations exposed by the lending HTTP surface. Every
// argument is a string as received on the wire; the caller is taken from the
// context via lending.Sender.
type Engine interface {
	ListMarkets(ctx context.Context) ([]MarketView, error)
	GetMarket(ctx context.Context, market string) (MarketView, error)
	GetPosition(ctx context.Context, market, account string) (PositionView, error)
	Liquidatable(ctx context.Context, market string) ([]string, error)

	AddCollateral(ctx context.Context, market, to, share string) error
	RemoveCollateral(ctx context.Context, market, to, share string) error
	Borrow(ctx context.Context, market, to, amount string) (BorrowView, error)
	Repay(ctx context.Context, market, to string, partPayment bool, value string) (RepayView, error)
	AddAsset(ctx context.Context, market, to, share string) (string, error)
	RemoveAsset(ctx context.Context, market, to, fraction string) (string, error)
	SetOperator(ctx context.Context, market, operator string, approved bool) error
	UpdatePause(ctx context.Context, market string, paused bool) error
	Liquidate(ctx context.Context, market string, req LiquidateRequest) (LiquidationView, error)
	Execute(ctx context.Context, market string, calls []lending.Call, revertOnFail bool) ([]lending.CallResult, error)
	UpdateExchangeRate(ctx context.Context, market string) (RateView, error)
	Accrue(ctx context.Context, market string) error

	Admin(ctx context.Context, calls []registry.AdminCall, forceSuccess bool) ([]lending.CallResult, error)
	WithdrawFees(ctx context.Context, markets []string) (map[string]FeeView, error)

	Balances(ctx context.Context, account string) ([]BalanceView, error)
	Deposit(ctx context.Context, asset, amount string) (BalanceView, error)
	Withdraw(ctx context.Context, asset, share string) (BalanceView, error)
	Approve(ctx context.Context, operator string, approved bool) error

	PlaceBid(ctx context.Context, queue string, pool uint32, share string) (BidView, error)
	ActivateBid(ctx context.Context, queue string, pool uint32, id string) error
	RemoveBid(ctx context.Context, queue string, pool uint32, id string) (string, error)
	Redeem(ctx context.Context, queue, to string) (string, error)
	ListBids(ctx context.Context, queue string, pool uint32) ([]BidView, error)

	Subscribe(buffer int) (<-chan *types.Event, func())
}

// LiquidateRequest carries the wire form of Market.Liquidate. An empty
// Swapper selects direct mode.
type LiquidateRequest struct {
	Accounts       []string `json:"accounts"`
	MaxBorrowParts []string `json:"maxBorrowParts,omitempty"`
	Swapper        string   `json:"swapper,omitempty"`
}
