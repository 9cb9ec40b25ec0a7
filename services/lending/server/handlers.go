package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lendcore/integrations/eventstore"
	"lendcore/native/lending"
	"lendcore/native/registry"
	"lendcore/services/lending/engine"
)

const requestLimit = 1 << 20

// AmountRequest moves a share or amount to an optional recipient. An empty
// To means the caller.
type AmountRequest struct {
	To    string `json:"to,omitempty"`
	Value string `json:"value"`
}

// RepayRequest repays value as a borrow part when PartPayment is set,
// otherwise as an asset amount.
type RepayRequest struct {
	To          string `json:"to,omitempty"`
	PartPayment bool   `json:"partPayment"`
	Value       string `json:"value"`
}

// OperatorRequest grants or revokes an operator.
type OperatorRequest struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

// PauseRequest toggles a market pause.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// ExecuteRequest carries a batch for one market.
type ExecuteRequest struct {
	Calls        []lending.Call `json:"calls"`
	RevertOnFail bool           `json:"revertOnFail"`
}

// AdminRequest carries registry admin calls.
type AdminRequest struct {
	Calls        []registry.AdminCall `json:"calls"`
	ForceSuccess bool                 `json:"forceSuccess"`
}

// FeesRequest names the markets to sweep; empty means all.
type FeesRequest struct {
	Markets []string `json:"markets,omitempty"`
}

// LedgerRequest moves wallet funds into or out of the ledger.
type LedgerRequest struct {
	Asset string `json:"asset"`
	Value string `json:"value"`
}

// BidRequest places a queue bid.
type BidRequest struct {
	Share string `json:"share"`
}

// RedeemRequest claims bought collateral.
type RedeemRequest struct {
	To string `json:"to,omitempty"`
}

// ResultResponse wraps a single scalar result.
type ResultResponse struct {
	Result string `json:"result"`
}

// CallsResponse reports batch outcomes.
type CallsResponse struct {
	Results []lending.CallResult `json:"results"`
}

// EventsResponse pages the event history.
type EventsResponse struct {
	Events []eventstore.Record `json:"events"`
	Head   string              `json:"head"`
	Next   uint64              `json:"next,omitempty"`
}

func decodeRequest(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, requestLimit)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body required")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func poolParam(r *http.Request) (uint32, error) {
	raw := chi.URLParam(r, "pool")
	pool, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid pool %q", raw)
	}
	return uint32(pool), nil
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.engine.ListMarkets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": markets})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.engine.GetMarket(r.Context(), chi.URLParam(r, "market"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.engine.GetPosition(r.Context(), chi.URLParam(r, "market"), chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) liquidatable(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.engine.Liquidatable(r.Context(), chi.URLParam(r, "market"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (s *Server) accrue(w http.ResponseWriter, r *http.Request) {
	market := chi.URLParam(r, "market")
	if err := s.engine.Accrue(r.Context(), market); err != nil {
		writeError(w, err)
		return
	}
	s.getMarket(w, r)
}

func (s *Server) updateExchangeRate(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.UpdateExchangeRate(r.Context(), chi.URLParam(r, "market"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) balances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.engine.Balances(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}

func (s *Server) addCollateral(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.engine.AddCollateral(r.Context(), chi.URLParam(r, "market"), req.To, req.Value); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeCollateral(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.engine.RemoveCollateral(r.Context(), chi.URLParam(r, "market"), req.To, req.Value); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	res, err := s.engine.Borrow(r.Context(), chi.URLParam(r, "market"), req.To, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	var req RepayRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	res, err := s.engine.Repay(r.Context(), chi.URLParam(r, "market"), req.To, req.PartPayment, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) addAsset(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	fraction, err := s.engine.AddAsset(r.Context(), chi.URLParam(r, "market"), req.To, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{Result: fraction})
}

func (s *Server) removeAsset(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	share, err := s.engine.RemoveAsset(r.Context(), chi.URLParam(r, "market"), req.To, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{Result: share})
}

func (s *Server) setOperator(w http.ResponseWriter, r *http.Request) {
	var req OperatorRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.engine.SetOperator(r.Context(), chi.URLParam(r, "market"), req.Operator, req.Approved); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updatePause(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.engine.UpdatePause(r.Context(), chi.URLParam(r, "market"), req.Paused); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req engine.LiquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	res, err := s.engine.Liquidate(r.Context(), chi.URLParam(r, "market"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	results, err := s.engine.Execute(r.Context(), chi.URLParam(r, "market"), req.Calls, req.RevertOnFail)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CallsResponse{Results: results})
}

func (s *Server) adminExecute(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	results, err := s.engine.Admin(r.Context(), req.Calls, req.ForceSuccess)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CallsResponse{Results: results})
}

func (s *Server) withdrawFees(w http.ResponseWriter, r *http.Request) {
	var req FeesRequest
	if r.ContentLength != 0 {
		if err := decodeRequest(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	fees, err := s.engine.WithdrawFees(r.Context(), req.Markets)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fees": fees})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req LedgerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := s.engine.Deposit(r.Context(), req.Asset, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req LedgerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := s.engine.Withdraw(r.Context(), req.Asset, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var req OperatorRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.engine.Approve(r.Context(), req.Operator, req.Approved); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listBids(w http.ResponseWriter, r *http.Request) {
	pool, err := poolParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	bids, err := s.engine.ListBids(r.Context(), chi.URLParam(r, "queue"), pool)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bids": bids})
}

func (s *Server) placeBid(w http.ResponseWriter, r *http.Request) {
	pool, err := poolParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req BidRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	bid, err := s.engine.PlaceBid(r.Context(), chi.URLParam(r, "queue"), pool, req.Share)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

func (s *Server) activateBid(w http.ResponseWriter, r *http.Request) {
	pool, err := poolParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.engine.ActivateBid(r.Context(), chi.URLParam(r, "queue"), pool, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeBid(w http.ResponseWriter, r *http.Request) {
	pool, err := poolParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	refund, err := s.engine.RemoveBid(r.Context(), chi.URLParam(r, "queue"), pool, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{Result: refund})
}

func (s *Server) redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if r.ContentLength != 0 {
		if err := decodeRequest(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	out, err := s.engine.Redeem(r.Context(), chi.URLParam(r, "queue"), req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{Result: out})
}

func (s *Server) queryEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, errEventsDisabled)
		return
	}
	q := r.URL.Query()
	f := eventstore.Filter{
		Type:    strings.TrimSpace(q.Get("type")),
		Market:  strings.TrimSpace(q.Get("market")),
		Account: strings.TrimSpace(q.Get("account")),
	}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("invalid after %q", raw))
			return
		}
		f.AfterID = after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeBadRequest(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		f.Limit = limit
	}
	records, err := s.events.Query(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := EventsResponse{Events: records, Head: s.events.Head()}
	if n := len(records); n > 0 {
		resp.Next = records[n-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}
