package swapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
	"lendcore/native/lending"
	"lendcore/native/oracle"
)

// MaxHaircut bounds the discount an inventory venue may apply, in
// lending.FeePrecision units.
const MaxHaircut = 20_000

var (
	ErrNoRoute       = errors.New("swapper: no route for asset pair")
	ErrInvalidConfig = errors.New("swapper: invalid configuration")
)

// Emitter receives swap events.
type Emitter interface {
	Emit(events.Event)
}

type route struct {
	in, out lending.AssetID
}

// Inventory is a liquidation venue that buys seized collateral at the oracle
// rate less a haircut and pays out of its own ledger balance. The collateral
// it receives stays on its ledger account.
type Inventory struct {
	address crypto.Address
	ledger  lending.Ledger
	haircut uint32
	emitter Emitter
	logger  *slog.Logger

	mu     sync.RWMutex
	routes map[route]lending.Oracle
}

var _ lending.Swapper = (*Inventory)(nil)

// NewInventory builds a venue operating the ledger account at address. The
// ledger handle must be the venue's own operator handle.
func NewInventory(address crypto.Address, ledger lending.Ledger, haircut uint32, emitter Emitter, logger *slog.Logger) (*Inventory, error) {
	if address.IsZero() {
		return nil, fmt.Errorf("%w: address required", ErrInvalidConfig)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger required", ErrInvalidConfig)
	}
	if haircut > MaxHaircut {
		return nil, fmt.Errorf("%w: haircut %d exceeds %d", ErrInvalidConfig, haircut, MaxHaircut)
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inventory{
		address: address,
		ledger:  ledger,
		haircut: haircut,
		emitter: emitter,
		logger:  logger.With("component", "swapper", "venue", address.String()),
		routes:  make(map[route]lending.Oracle),
	}, nil
}

// Address implements lending.Swapper.
func (v *Inventory) Address() crypto.Address { return v.address }

// Haircut returns the configured discount.
func (v *Inventory) Haircut() uint32 { return v.haircut }

// AddRoute prices swaps from assetIn to assetOut with rates quoting the
// amount of assetIn worth one unit of assetOut.
func (v *Inventory) AddRoute(assetIn, assetOut lending.AssetID, rates lending.Oracle) error {
	if assetIn == assetOut {
		return fmt.Errorf("%w: route assets must differ", ErrInvalidConfig)
	}
	if rates == nil {
		return fmt.Errorf("%w: oracle required", ErrInvalidConfig)
	}
	v.mu.Lock()
	v.routes[route{in: assetIn, out: assetOut}] = rates
	v.mu.Unlock()
	return nil
}

// Quote returns the amount of assetOut paid for shareIn of assetIn.
func (v *Inventory) Quote(ctx context.Context, assetIn, assetOut lending.AssetID, shareIn *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	v.mu.RLock()
	rates := v.routes[route{in: assetIn, out: assetOut}]
	v.mu.RUnlock()
	if rates == nil {
		return nil, nil, fmt.Errorf("%w: %d -> %d", ErrNoRoute, assetIn, assetOut)
	}
	rate, err := rates.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	if rate == nil || rate.IsZero() {
		return nil, nil, fmt.Errorf("swapper: zero rate for %d -> %d", assetIn, assetOut)
	}
	amountIn := v.ledger.ToAmount(assetIn, shareIn, false)
	amountOut := new(uint256.Int).Mul(amountIn, lending.ExchangeRatePrecision)
	amountOut.Div(amountOut, rate)
	amountOut.Mul(amountOut, uint256.NewInt(uint64(lending.FeePrecision-v.haircut)))
	amountOut.Div(amountOut, uint256.NewInt(lending.FeePrecision))
	return amountOut, rate, nil
}

// Swap implements lending.Swapper. The input shares must already sit on the
// venue's ledger account.
func (v *Inventory) Swap(ctx context.Context, req lending.SwapRequest) (*uint256.Int, *uint256.Int, error) {
	if req.ShareIn == nil || req.ShareIn.IsZero() {
		return nil, nil, fmt.Errorf("%w: empty swap", lending.ErrInvalidParameter)
	}
	if held := v.ledger.BalanceOf(v.address, req.AssetIn); held.Lt(req.ShareIn) {
		return nil, nil, fmt.Errorf("swapper: input not received: hold %s, need %s", held.Dec(), req.ShareIn.Dec())
	}
	amountOut, rate, err := v.Quote(ctx, req.AssetIn, req.AssetOut, req.ShareIn)
	if err != nil {
		return nil, nil, err
	}
	if req.MinAmountOut != nil && amountOut.Lt(req.MinAmountOut) {
		return nil, nil, fmt.Errorf("%w: quote %s below minimum %s", lending.ErrSwapInsufficient, amountOut.Dec(), req.MinAmountOut.Dec())
	}
	shareOut := v.ledger.ToShare(req.AssetOut, amountOut, false)
	if err := v.ledger.TransferShares(req.AssetOut, v.address, req.To, shareOut); err != nil {
		return nil, nil, fmt.Errorf("swapper: pay out: %w", err)
	}
	v.emitter.Emit(events.SwapExecuted{
		Venue:     v.address,
		To:        req.To,
		AssetIn:   uint32(req.AssetIn),
		AssetOut:  uint32(req.AssetOut),
		ShareIn:   new(uint256.Int).Set(req.ShareIn),
		AmountOut: new(uint256.Int).Set(amountOut),
		ShareOut:  new(uint256.Int).Set(shareOut),
		Rate:      oracle.FormatRate(rate),
	})
	v.logger.Info("swap executed",
		slog.Uint64("assetIn", uint64(req.AssetIn)),
		slog.Uint64("assetOut", uint64(req.AssetOut)),
		slog.String("shareIn", req.ShareIn.Dec()),
		slog.String("amountOut", amountOut.Dec()))
	return amountOut, shareOut, nil
}
