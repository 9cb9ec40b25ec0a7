package lending_test

import (
	"encoding/json"
	"strings"
	"testing"

	"lendcore/native/lending"
)

func call(t *testing.T, method string, params map[string]interface{}) lending.Call {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return lending.Call{Method: method, Params: raw}
}

func TestExecuteRevertOnFailRollsBackEverything(t *testing.T) {
	h := newHarness(t, scenarioConfig())
	h.lend(alice, e18(10_000))
	h.fund(bob, h.collateral, e18(10))

	calls := []lending.Call{
		call(t, "addCollateral", map[string]interface{}{"from": bob, "to": bob, "share": e18(10).Dec()}),
		call(t, "borrow", map[string]interface{}{"from": bob, "to": bob, "amount": e18(9_000).Dec()}),
	}
	if _, err := h.market.Execute(h.as(bob), calls, true); err == nil {
		t.Fatalf("expected batch to fail")
	} else {
		requireErr(t, err, lending.ErrInsolvent)
	}
	if !h.position(bob).IsEmpty() {
		t.Fatalf("expected collateral deposit rolled back")
	}
	if !h.balance(bob, h.collateral).Eq(e18(10)) {
		t.Fatalf("expected collateral back in bob's ledger balance")
	}
}

func TestExecuteCollectsPerCallResults(t *testing.T) {
	h := newHarness(t, scenarioConfig())
	h.lend(alice, e18(10_000))
	h.fund(bob, h.collateral, e18(10))

	calls := []lending.Call{
		call(t, "addCollateral", map[string]interface{}{"from": bob, "to": bob, "share": e18(10).Dec()}),
		call(t, "borrow", map[string]interface{}{"from": bob, "to": bob, "amount": e18(9_000).Dec()}),
		call(t, "borrow", map[string]interface{}{"from": bob, "to": bob, "amount": e18(1_000).Dec()}),
		{Method: "selfDestruct"},
		call(t, "accrue", nil),
	}
	results, err := h.market.Execute(h.as(bob), calls, false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(results) != len(calls) {
		t.Fatalf("expected %d results, got %d", len(calls), len(results))
	}
	wantSuccess := []bool{true, false, true, false, true}
	for i, res := range results {
		if res.Success != wantSuccess[i] {
			t.Fatalf("call %d (%s): success=%v err=%q", i, res.Method, res.Success, res.Error)
		}
	}
	if !strings.Contains(results[2].Result, e18(1_000).Dec()) {
		t.Fatalf("expected borrow result to carry the part, got %s", results[2].Result)
	}
	if !strings.Contains(results[3].Error, "unknown method") {
		t.Fatalf("unexpected error for unknown method: %s", results[3].Error)
	}
	if !h.position(bob).BorrowPart.Eq(e18(1_000)) {
		t.Fatalf("expected only the successful borrow applied")
	}
	h.requireConserved()
}

func TestExecuteRejectsEmptyBatch(t *testing.T) {
	h := newHarness(t, scenarioConfig())
	_, err := h.market.Execute(h.as(bob), nil, true)
	requireErr(t, err, lending.ErrInvalidParameter)
	if len(lending.BatchMethods()) == 0 {
		t.Fatalf("expected registered batch methods")
	}
}
