package lending

import (
	"testing"

	"github.com/holiman/uint256"
)

func utilization(pct uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(pct), uint256.NewInt(10_000_000_000_000_000))
}

func TestUtilizationModelMovesTowardTargetBand(t *testing.T) {
	model := DefaultUtilizationModel()
	if err := model.Validate(); err != nil {
		t.Fatalf("default model invalid: %v", err)
	}
	start := model.Initial()
	const day = 86_400

	low := model.Next(start, RateSnapshot{Utilization: utilization(10), HasBorrowers: true}, day)
	if !low.Lt(start) {
		t.Fatalf("expected rate to fall under the band, got %s", low.Dec())
	}
	inBand := model.Next(start, RateSnapshot{Utilization: utilization(75), HasBorrowers: true}, day)
	if !inBand.Eq(start) {
		t.Fatalf("expected rate unchanged inside the band, got %s", inBand.Dec())
	}
	high := model.Next(start, RateSnapshot{Utilization: utilization(95), HasBorrowers: true}, day)
	if !high.Gt(start) {
		t.Fatalf("expected rate to rise over the band, got %s", high.Dec())
	}
	idle := model.Next(high, RateSnapshot{Utilization: zero()}, day)
	if !idle.Eq(start) {
		t.Fatalf("expected starting rate without borrowers, got %s", idle.Dec())
	}
	noTime := model.Next(start, RateSnapshot{Utilization: utilization(95), HasBorrowers: true}, 0)
	if !noTime.Eq(start) {
		t.Fatalf("expected no movement without elapsed time")
	}
}

func TestUtilizationModelClampsToBounds(t *testing.T) {
	model := DefaultUtilizationModel()
	const decade = 10 * secondsPerYear

	floor := model.Next(model.Initial(), RateSnapshot{Utilization: utilization(0), HasBorrowers: true}, decade)
	if !floor.Eq(model.MinimumRate) {
		t.Fatalf("expected minimum rate, got %s", floor.Dec())
	}
	ceiling := model.Next(model.MaximumRate, RateSnapshot{Utilization: utilization(100), HasBorrowers: true}, decade)
	if !ceiling.Eq(model.MaximumRate) {
		t.Fatalf("expected maximum rate, got %s", ceiling.Dec())
	}

	broken := DefaultUtilizationModel()
	broken.MinimumTargetUtilization = utilization(90)
	if err := broken.Validate(); err == nil {
		t.Fatalf("expected inverted band to be rejected")
	}
}

type staticReference struct{ debt *uint256.Int }

func (s staticReference) ReferenceDebt() *uint256.Int { return s.debt }

func TestDebtRateModelCurve(t *testing.T) {
	ref := staticReference{debt: uint256.NewInt(1_000_000)}
	model := DefaultDebtRateModel(ref, false)
	if err := model.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	tests := []struct {
		name string
		debt uint64
		want *uint256.Int
	}{
		{"no debt pays minimum", 0, model.MinDebtRate},
		{"half the max point", 250_000, uint256.NewInt(20_000_000_000_000_000)},
		{"at max point", 500_000, model.MaxDebtRate},
		{"beyond max point", 2_000_000, model.MaxDebtRate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := model.DebtRate(uint256.NewInt(tc.debt))
			if !got.Eq(tc.want) {
				t.Fatalf("debt %d: got %s, want %s", tc.debt, got.Dec(), tc.want.Dec())
			}
		})
	}

	reference := DefaultDebtRateModel(nil, true)
	if got := reference.DebtRate(uint256.NewInt(5_000_000)); !got.Eq(reference.MinDebtRate) {
		t.Fatalf("reference market should pay the minimum, got %s", got.Dec())
	}
	if got := model.Next(nil, RateSnapshot{TotalDebt: uint256.NewInt(500_000)}, 0); !got.Eq(perSecond(model.MaxDebtRate)) {
		t.Fatalf("expected per-second max rate, got %s", got.Dec())
	}
	if err := DefaultDebtRateModel(nil, false).Validate(); err == nil {
		t.Fatalf("expected missing reference to be rejected")
	}
}
