package lending

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestRebaseRoundingDirections(t *testing.T) {
	r := Rebase{Elastic: uint256.NewInt(1_000), Base: uint256.NewInt(300)}

	tests := []struct {
		name string
		got  *uint256.Int
		want uint64
	}{
		{"to base floor", r.ToBase(uint256.NewInt(11), false), 3},
		{"to base ceil", r.ToBase(uint256.NewInt(11), true), 4},
		{"to base exact", r.ToBase(uint256.NewInt(100), true), 30},
		{"to elastic floor", r.ToElastic(uint256.NewInt(1), false), 3},
		{"to elastic ceil", r.ToElastic(uint256.NewInt(1), true), 4},
		{"to elastic exact", r.ToElastic(uint256.NewInt(3), true), 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got.Uint64() != tc.want {
				t.Fatalf("got %d, want %d", tc.got.Uint64(), tc.want)
			}
		})
	}
}

func TestRebaseEmptyConvertsOneToOne(t *testing.T) {
	r := NewRebase()
	if got := r.ToBase(uint256.NewInt(42), true); got.Uint64() != 42 {
		t.Fatalf("expected 42, got %d", got.Uint64())
	}
	base := r.Add(uint256.NewInt(500), true)
	if base.Uint64() != 500 || r.Elastic.Uint64() != 500 || r.Base.Uint64() != 500 {
		t.Fatalf("unexpected rebase after first add: %s/%s", r.Elastic.Dec(), r.Base.Dec())
	}
}

func TestRebaseSubFloorsAtZero(t *testing.T) {
	r := Rebase{Elastic: uint256.NewInt(101), Base: uint256.NewInt(100)}
	elastic := r.Sub(uint256.NewInt(100), true)
	if elastic.Uint64() != 101 {
		t.Fatalf("expected the whole elastic back, got %d", elastic.Uint64())
	}
	if !r.Elastic.IsZero() || !r.Base.IsZero() {
		t.Fatalf("expected empty rebase, got %s/%s", r.Elastic.Dec(), r.Base.Dec())
	}

	r.SubBoth(uint256.NewInt(5), uint256.NewInt(5))
	if !r.Elastic.IsZero() || !r.Base.IsZero() {
		t.Fatalf("expected SubBoth to floor at zero")
	}
}

func TestMulDivUpAndParseAmount(t *testing.T) {
	if got := mulDivUp(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2)); got.Uint64() != 11 {
		t.Fatalf("expected ceil(21/2)=11, got %d", got.Uint64())
	}
	if got := mulDiv(uint256.NewInt(7), uint256.NewInt(3), zero()); !got.IsZero() {
		t.Fatalf("expected zero on zero divisor")
	}
	v, err := ParseAmount(" 1000000000000000000000 ")
	if err != nil || v.Dec() != "1000000000000000000000" {
		t.Fatalf("parse amount: %v %v", v, err)
	}
	if _, err := ParseAmount("-1"); err == nil {
		t.Fatalf("expected negative amount rejected")
	}
}
