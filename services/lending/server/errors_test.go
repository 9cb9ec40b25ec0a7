package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"lendcore/native/ledger"
	"lendcore/native/lending"
	"lendcore/native/liquidationqueue"
	"lendcore/native/registry"
	"lendcore/services/lending/engine"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "not found", err: engine.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
		{name: "unauthenticated", err: engine.ErrUnauthenticated, status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "ledger balance before funds", err: ledger.ErrInsufficientBalance, status: http.StatusUnprocessableEntity, code: "insufficient_balance"},
		{name: "ledger approval before unauthorized", err: ledger.ErrNotApproved, status: http.StatusForbidden, code: "operator_not_approved"},
		{name: "insolvent", err: lending.ErrInsolvent, status: http.StatusUnprocessableEntity, code: "insolvent"},
		{name: "oracle", err: lending.ErrOracleUnavailable, status: http.StatusServiceUnavailable, code: "oracle_unavailable"},
		{name: "module", err: lending.ErrModuleNotSet, status: http.StatusNotImplemented, code: "module_not_set"},
		{name: "registry", err: registry.ErrUnknownMarket, status: http.StatusNotFound, code: "unknown_market"},
		{name: "queue", err: liquidationqueue.ErrBidNotReady, status: http.StatusConflict, code: "bid_not_ready"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, code := classify(fmt.Errorf("wrap: %w", tc.err))
			if status != tc.status || code != tc.code {
				t.Fatalf("classify = %d %q, want %d %q", status, code, tc.status, tc.code)
			}
		})
	}
}

func TestWriteErrorHidesInternalMessages(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("database password leaked"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"code\":\"internal\",\"message\":\"internal error\"}\n" {
		t.Fatalf("body = %q", got)
	}
}
