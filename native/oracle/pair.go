package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/holiman/uint256"

	"lendcore/native/lending"
)

var ratePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// PairConfig describes the market pair a PairOracle quotes.
type PairConfig struct {
	// Asset is the borrowable asset symbol.
	Asset string
	// Collateral is the collateral asset symbol.
	Collateral string
	// Grace keeps the last good quote usable after a source failure. Zero
	// disables the fallback.
	Grace time.Duration
}

// PairOracle adapts a PriceSource to lending.Oracle. It quotes the amount of
// collateral worth one unit of the asset scaled by 1e18.
type PairOracle struct {
	source     PriceSource
	asset      string
	collateral string
	grace      time.Duration
	cache      *ristretto.Cache
	logger     *slog.Logger
}

var _ lending.Oracle = (*PairOracle)(nil)

// NewPairOracle builds a market oracle over source.
func NewPairOracle(source PriceSource, cfg PairConfig, logger *slog.Logger) (*PairOracle, error) {
	if source == nil {
		return nil, fmt.Errorf("pair oracle: source required")
	}
	asset := normaliseSymbol(cfg.Asset)
	collateral := normaliseSymbol(cfg.Collateral)
	if asset == "" || collateral == "" {
		return nil, fmt.Errorf("pair oracle: asset and collateral required")
	}
	if asset == collateral {
		return nil, fmt.Errorf("pair oracle: asset and collateral must differ")
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100,
		MaxCost:     10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("pair oracle: create cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PairOracle{
		source:     source,
		asset:      asset,
		collateral: collateral,
		grace:      cfg.Grace,
		cache:      cache,
		logger:     logger.With("component", "oracle", "pair", pairKey(asset, collateral)),
	}, nil
}

// Pair returns the ASSET/COLLATERAL symbol pair.
func (o *PairOracle) Pair() string { return pairKey(o.asset, o.collateral) }

// Get fetches a fresh quote. When every source fails the last good quote is
// served while it is younger than the grace period.
func (o *PairOracle) Get(ctx context.Context) (*uint256.Int, error) {
	rate, err := o.fetch(ctx)
	if err == nil {
		if o.grace > 0 {
			o.cache.SetWithTTL(o.Pair(), new(uint256.Int).Set(rate), 1, o.grace)
			o.cache.Wait()
		}
		return rate, nil
	}
	if cached, ok := o.cached(); ok {
		o.logger.Warn("serving last good quote", "error", err)
		return cached, nil
	}
	return nil, fmt.Errorf("%w: %v", lending.ErrOracleUnavailable, err)
}

// Peek returns the last good quote when one is cached, otherwise it queries
// the source without recording the result.
func (o *PairOracle) Peek(ctx context.Context) (*uint256.Int, error) {
	if cached, ok := o.cached(); ok {
		return cached, nil
	}
	rate, err := o.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lending.ErrOracleUnavailable, err)
	}
	return rate, nil
}

// Close releases the quote cache.
func (o *PairOracle) Close() {
	if o != nil && o.cache != nil {
		o.cache.Close()
	}
}

func (o *PairOracle) cached() (*uint256.Int, bool) {
	if o.grace <= 0 {
		return nil, false
	}
	value, ok := o.cache.Get(o.Pair())
	if !ok {
		return nil, false
	}
	rate, ok := value.(*uint256.Int)
	if !ok {
		return nil, false
	}
	return new(uint256.Int).Set(rate), true
}

func (o *PairOracle) fetch(ctx context.Context) (*uint256.Int, error) {
	q, err := o.source.GetRate(ctx, o.asset, o.collateral)
	if err != nil {
		return nil, err
	}
	return ScaleRate(q.Rate)
}

// ScaleRate converts a rational rate into the fixed-point form markets use.
func ScaleRate(rate *big.Rat) (*uint256.Int, error) {
	if rate == nil || rate.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	scaled := new(big.Int).Mul(rate.Num(), ratePrecision)
	scaled.Quo(scaled, rate.Denom())
	if scaled.Sign() == 0 {
		return nil, fmt.Errorf("%w: below precision", ErrInvalidRate)
	}
	out, overflow := uint256.FromBig(scaled)
	if overflow {
		return nil, fmt.Errorf("%w: overflow", ErrInvalidRate)
	}
	return out, nil
}

// FormatRate renders a fixed-point rate as a decimal string.
func FormatRate(rate *uint256.Int) string {
	if rate == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(rate.ToBig(), ratePrecision)
	return strings.TrimRight(strings.TrimRight(r.FloatString(18), "0"), ".")
}
