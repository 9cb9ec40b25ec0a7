package server

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "lendcore/native/common"
	"lendcore/native/ledger"
	"lendcore/native/lending"
	"lendcore/native/liquidationqueue"
	"lendcore/native/registry"
	"lendcore/native/swapper"
	"lendcore/services/lending/engine"
)

var errEventsDisabled = errors.New("server: event history disabled")

// errorMapping pairs a sentinel with its HTTP status and stable code.
type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable is matched in order; the first errors.Is hit wins. Wrapped
// sentinels (ledger errors wrap lending ones) are listed before what they
// wrap.
var errorTable = []errorMapping{
	{engine.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{engine.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{engine.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{engine.ErrNotFound, http.StatusNotFound, "not_found"},

	{ledger.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{ledger.ErrNotApproved, http.StatusForbidden, "operator_not_approved"},
	{ledger.ErrUnknownAsset, http.StatusNotFound, "unknown_asset"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},

	{lending.ErrMarketPaused, http.StatusServiceUnavailable, "market_paused"},
	{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, "market_paused"},
	{lending.ErrInsolvent, http.StatusUnprocessableEntity, "insolvent"},
	{lending.ErrBorrowCapReached, http.StatusUnprocessableEntity, "borrow_cap_reached"},
	{lending.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{lending.ErrInsufficientCollateral, http.StatusUnprocessableEntity, "insufficient_collateral"},
	{lending.ErrInvalidSwapper, http.StatusBadRequest, "invalid_swapper"},
	{lending.ErrSwapInsufficient, http.StatusUnprocessableEntity, "swap_insufficient"},
	{lending.ErrAlreadyInitialized, http.StatusConflict, "already_initialized"},
	{lending.ErrNotInitialized, http.StatusConflict, "not_initialized"},
	{lending.ErrModuleNotSet, http.StatusNotImplemented, "module_not_set"},
	{lending.ErrOracleUnavailable, http.StatusServiceUnavailable, "oracle_unavailable"},
	{lending.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{lending.ErrInvalidParameter, http.StatusBadRequest, "invalid_parameter"},

	{registry.ErrUnknownMarket, http.StatusNotFound, "unknown_market"},
	{registry.ErrUnknownMaster, http.StatusNotFound, "unknown_master"},
	{registry.ErrMarketExists, http.StatusConflict, "market_exists"},
	{registry.ErrMasterExists, http.StatusConflict, "master_exists"},
	{registry.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{registry.ErrClosed, http.StatusServiceUnavailable, "registry_closed"},

	{liquidationqueue.ErrInvalidPool, http.StatusBadRequest, "invalid_pool"},
	{liquidationqueue.ErrBidNotFound, http.StatusNotFound, "bid_not_found"},
	{liquidationqueue.ErrBidNotReady, http.StatusConflict, "bid_not_ready"},
	{liquidationqueue.ErrBidActive, http.StatusConflict, "bid_active"},
	{liquidationqueue.ErrBidTooSmall, http.StatusBadRequest, "bid_too_small"},
	{liquidationqueue.ErrNothingToClaim, http.StatusConflict, "nothing_to_redeem"},
	{liquidationqueue.ErrNotOwner, http.StatusForbidden, "not_bid_owner"},

	{swapper.ErrNoRoute, http.StatusUnprocessableEntity, "no_route"},
	{errEventsDisabled, http.StatusServiceUnavailable, "events_disabled"},
}

// apiError is the JSON error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify returns the status and code for err.
func classify(err error) (int, string) {
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			return entry.status, entry.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, apiError{Code: code, Message: msg})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, apiError{Code: "bad_request", Message: err.Error()})
}
