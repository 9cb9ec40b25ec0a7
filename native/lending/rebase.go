package lending

import "github.com/holiman/uint256"

// Rebase relates a normalized base count (lender fractions or borrow parts)
// to the real elastic amount behind it. Conversions take an explicit rounding
// direction; call sites round against the account and in favour of the
// market.
type Rebase struct {
	Elastic *uint256.Int
	Base    *uint256.Int
}

// NewRebase returns an empty pair.
func NewRebase() Rebase {
	return Rebase{Elastic: zero(), Base: zero()}
}

// Clone returns a deep copy.
func (r Rebase) Clone() Rebase {
	return Rebase{Elastic: clone(r.Elastic), Base: clone(r.Base)}
}

func (r *Rebase) normalize() {
	if r.Elastic == nil {
		r.Elastic = zero()
	}
	if r.Base == nil {
		r.Base = zero()
	}
}

// ToBase converts an elastic amount into base units.
func (r Rebase) ToBase(elastic *uint256.Int, roundUp bool) *uint256.Int {
	if isZero(r.Elastic) {
		return clone(elastic)
	}
	base := mulDiv(elastic, r.Base, r.Elastic)
	if roundUp && mulDiv(base, r.Elastic, r.Base).Lt(clone(elastic)) {
		base = add(base, u64(1))
	}
	return base
}

// ToElastic converts base units into an elastic amount.
func (r Rebase) ToElastic(base *uint256.Int, roundUp bool) *uint256.Int {
	if isZero(r.Base) {
		return clone(base)
	}
	elastic := mulDiv(base, r.Elastic, r.Base)
	if roundUp && mulDiv(elastic, r.Base, r.Elastic).Lt(clone(base)) {
		elastic = add(elastic, u64(1))
	}
	return elastic
}

// Add grows the pair by elastic and returns the base units created.
func (r *Rebase) Add(elastic *uint256.Int, roundUp bool) *uint256.Int {
	r.normalize()
	base := r.ToBase(elastic, roundUp)
	r.Elastic = add(r.Elastic, elastic)
	r.Base = add(r.Base, base)
	return base
}

// Sub shrinks the pair by base and returns the elastic amount removed. Both
// sides floor at zero.
func (r *Rebase) Sub(base *uint256.Int, roundUp bool) *uint256.Int {
	r.normalize()
	elastic := r.ToElastic(base, roundUp)
	if r.Elastic.Lt(elastic) {
		elastic = clone(r.Elastic)
	}
	r.Elastic = subFloor(r.Elastic, elastic)
	r.Base = subFloor(r.Base, base)
	return elastic
}

// AddBoth grows both sides by explicit values.
func (r *Rebase) AddBoth(elastic, base *uint256.Int) {
	r.normalize()
	r.Elastic = add(r.Elastic, elastic)
	r.Base = add(r.Base, base)
}

// SubBoth shrinks both sides by explicit values, flooring at zero.
func (r *Rebase) SubBoth(elastic, base *uint256.Int) {
	r.normalize()
	r.Elastic = subFloor(r.Elastic, elastic)
	r.Base = subFloor(r.Base, base)
}
