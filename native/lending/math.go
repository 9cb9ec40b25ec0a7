package lending

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

const (
	// FeePrecision is the denominator of every configured fraction:
	// collateralization rates, fees and liquidation rewards. 75_000 is 75%.
	FeePrecision = 100_000

	// MinimumShareBalance is the smallest non-zero lender base a market may
	// hold.
	MinimumShareBalance = 1000

	secondsPerYear = 31_536_000
)

var (
	// ExchangeRatePrecision scales oracle rates: the rate is the amount of
	// collateral worth one unit of the borrowed asset, times 1e18.
	ExchangeRatePrecision = uint256.NewInt(1_000_000_000_000_000_000)

	feePrecision   = uint256.NewInt(FeePrecision)
	minimumBalance = uint256.NewInt(MinimumShareBalance)
	// exchangeRatePerFee is ExchangeRatePrecision / FeePrecision.
	exchangeRatePerFee = uint256.NewInt(10_000_000_000_000)
)

func zero() *uint256.Int { return new(uint256.Int) }

func u64(v uint64) *uint256.Int { return uint256.NewInt(v) }

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return zero()
	}
	return new(uint256.Int).Set(v)
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}

func add(a, b *uint256.Int) *uint256.Int {
	out, overflow := new(uint256.Int).AddOverflow(clone(a), clone(b))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}

// subFloor returns a-b, or zero when b exceeds a.
func subFloor(a, b *uint256.Int) *uint256.Int {
	if clone(a).Lt(clone(b)) {
		return zero()
	}
	return new(uint256.Int).Sub(clone(a), clone(b))
}

func minOf(a, b *uint256.Int) *uint256.Int {
	if clone(a).Lt(clone(b)) {
		return clone(a)
	}
	return clone(b)
}

func mul(a, b *uint256.Int) *uint256.Int {
	out, overflow := new(uint256.Int).MulOverflow(clone(a), clone(b))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}

// mulDiv computes floor(x*y/d) with a 512-bit intermediate. A zero divisor
// yields zero.
func mulDiv(x, y, d *uint256.Int) *uint256.Int {
	if isZero(d) {
		return zero()
	}
	out, overflow := new(uint256.Int).MulDivOverflow(clone(x), clone(y), d)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}

// mulDivUp computes ceil(x*y/d).
func mulDivUp(x, y, d *uint256.Int) *uint256.Int {
	out := mulDiv(x, y, d)
	if isZero(d) {
		return out
	}
	if !new(uint256.Int).MulMod(clone(x), clone(y), d).IsZero() {
		out = add(out, u64(1))
	}
	return out
}

// ParseAmount parses a base-10 amount. Empty input is zero.
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return zero(), nil
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrInvalidParameter, raw, err)
	}
	return v, nil
}
