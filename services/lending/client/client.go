// Package client is a thin HTTP client for the lending API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lendcore/services/lending/engine"
	"lendcore/services/lending/server"
)

// Client calls a lending daemon.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (10 second timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken authenticates every request with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("lending api: status %d", e.Status)
	}
	return fmt.Sprintf("lending api: %s: %s", e.Code, e.Message)
}

// Event is one persisted event as served by the history endpoint.
type Event struct {
	ID         uint64            `json:"id"`
	Type       string            `json:"type"`
	Market     string            `json:"market,omitempty"`
	Account    string            `json:"account,omitempty"`
	Digest     string            `json:"digest"`
	CreatedAt  time.Time         `json:"createdAt"`
	Attributes map[string]string `json:"attributes"`
}

// EventPage is one page of history.
type EventPage struct {
	Events []Event `json:"events"`
	Head   string  `json:"head"`
	Next   uint64  `json:"next,omitempty"`
}

// EventQuery filters history. A Type ending in a dot matches a family.
type EventQuery struct {
	Type    string
	Market  string
	Account string
	After   uint64
	Limit   int
}

// New parses baseURL, e.g. https://lend.example.com.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https")
	}
	c := &Client{base: u, http: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := *c.base
	u.Path = c.base.Path + "/api/v1" + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err == nil {
			apiErr.Code, apiErr.Message = payload.Code, payload.Message
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func marketPath(market, suffix string) string {
	return "/markets/" + url.PathEscape(market) + suffix
}

// Markets lists every live market.
func (c *Client) Markets(ctx context.Context) ([]engine.MarketView, error) {
	var out struct {
		Markets []engine.MarketView `json:"markets"`
	}
	err := c.do(ctx, http.MethodGet, "/markets", nil, nil, &out)
	return out.Markets, err
}

// Market returns one market.
func (c *Client) Market(ctx context.Context, market string) (engine.MarketView, error) {
	var out engine.MarketView
	err := c.do(ctx, http.MethodGet, marketPath(market, ""), nil, nil, &out)
	return out, err
}

// Position returns an account's position in a market.
func (c *Client) Position(ctx context.Context, market, account string) (engine.PositionView, error) {
	var out engine.PositionView
	err := c.do(ctx, http.MethodGet, marketPath(market, "/positions/"+url.PathEscape(account)), nil, nil, &out)
	return out, err
}

// Liquidatable lists accounts past the liquidation threshold.
func (c *Client) Liquidatable(ctx context.Context, market string) ([]string, error) {
	var out struct {
		Accounts []string `json:"accounts"`
	}
	err := c.do(ctx, http.MethodGet, marketPath(market, "/liquidatable"), nil, nil, &out)
	return out.Accounts, err
}

// Accrue settles interest and returns the refreshed market.
func (c *Client) Accrue(ctx context.Context, market string) (engine.MarketView, error) {
	var out engine.MarketView
	err := c.do(ctx, http.MethodPost, marketPath(market, "/accrue"), nil, nil, &out)
	return out, err
}

// UpdateExchangeRate refreshes the cached oracle rate.
func (c *Client) UpdateExchangeRate(ctx context.Context, market string) (engine.RateView, error) {
	var out engine.RateView
	err := c.do(ctx, http.MethodPost, marketPath(market, "/exchange-rate"), nil, nil, &out)
	return out, err
}

// AddCollateral credits collateral shares to to (the caller when empty).
func (c *Client) AddCollateral(ctx context.Context, market, to, share string) error {
	return c.do(ctx, http.MethodPost, marketPath(market, "/collateral/add"), nil, server.AmountRequest{To: to, Value: share}, nil)
}

// RemoveCollateral withdraws collateral shares to to.
func (c *Client) RemoveCollateral(ctx context.Context, market, to, share string) error {
	return c.do(ctx, http.MethodPost, marketPath(market, "/collateral/remove"), nil, server.AmountRequest{To: to, Value: share}, nil)
}

// Borrow borrows amount, delivering the asset shares to to.
func (c *Client) Borrow(ctx context.Context, market, to, amount string) (engine.BorrowView, error) {
	var out engine.BorrowView
	err := c.do(ctx, http.MethodPost, marketPath(market, "/borrow"), nil, server.AmountRequest{To: to, Value: amount}, &out)
	return out, err
}

// Repay repays debt of to. With partPayment the value is a borrow part,
// otherwise an amount of the borrowed asset.
func (c *Client) Repay(ctx context.Context, market, to string, partPayment bool, value string) (engine.RepayView, error) {
	var out engine.RepayView
	err := c.do(ctx, http.MethodPost, marketPath(market, "/repay"), nil,
		server.RepayRequest{To: to, PartPayment: partPayment, Value: value}, &out)
	return out, err
}

// AddAsset lends asset shares and returns the minted fraction.
func (c *Client) AddAsset(ctx context.Context, market, to, share string) (string, error) {
	var out server.ResultResponse
	err := c.do(ctx, http.MethodPost, marketPath(market, "/assets/add"), nil, server.AmountRequest{To: to, Value: share}, &out)
	return out.Result, err
}

// RemoveAsset burns a fraction and returns the asset shares paid out.
func (c *Client) RemoveAsset(ctx context.Context, market, to, fraction string) (string, error) {
	var out server.ResultResponse
	err := c.do(ctx, http.MethodPost, marketPath(market, "/assets/remove"), nil, server.AmountRequest{To: to, Value: fraction}, &out)
	return out.Result, err
}

// Liquidate closes insolvent positions.
func (c *Client) Liquidate(ctx context.Context, market string, req engine.LiquidateRequest) (engine.LiquidationView, error) {
	var out engine.LiquidationView
	err := c.do(ctx, http.MethodPost, marketPath(market, "/liquidate"), nil, req, &out)
	return out, err
}

// WithdrawFees sweeps protocol fees of markets (every market when empty).
func (c *Client) WithdrawFees(ctx context.Context, markets ...string) (map[string]engine.FeeView, error) {
	var out struct {
		Fees map[string]engine.FeeView `json:"fees"`
	}
	err := c.do(ctx, http.MethodPost, "/admin/fees", nil, server.FeesRequest{Markets: markets}, &out)
	return out.Fees, err
}

// Balances lists ledger balances of account.
func (c *Client) Balances(ctx context.Context, account string) ([]engine.BalanceView, error) {
	var out struct {
		Balances []engine.BalanceView `json:"balances"`
	}
	err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(account)+"/balances", nil, nil, &out)
	return out.Balances, err
}

// Deposit moves wallet tokens into the ledger.
func (c *Client) Deposit(ctx context.Context, asset, amount string) (engine.BalanceView, error) {
	var out engine.BalanceView
	err := c.do(ctx, http.MethodPost, "/ledger/deposit", nil, server.LedgerRequest{Asset: asset, Value: amount}, &out)
	return out, err
}

// Withdraw redeems ledger shares to the wallet.
func (c *Client) Withdraw(ctx context.Context, asset, share string) (engine.BalanceView, error) {
	var out engine.BalanceView
	err := c.do(ctx, http.MethodPost, "/ledger/withdraw", nil, server.LedgerRequest{Asset: asset, Value: share}, &out)
	return out, err
}

// Approve grants or revokes an operator (market or swapper) over the
// caller's ledger balance.
func (c *Client) Approve(ctx context.Context, operator string, approved bool) error {
	return c.do(ctx, http.MethodPost, "/ledger/approvals", nil, server.OperatorRequest{Operator: operator, Approved: approved}, nil)
}

// PlaceBid submits a liquidation bid of share into pool.
func (c *Client) PlaceBid(ctx context.Context, queue string, pool uint32, share string) (engine.BidView, error) {
	var out engine.BidView
	path := fmt.Sprintf("/queues/%s/pools/%d/bids", url.PathEscape(queue), pool)
	err := c.do(ctx, http.MethodPost, path, nil, server.BidRequest{Share: share}, &out)
	return out, err
}

// Events pages through persisted history.
func (c *Client) Events(ctx context.Context, q EventQuery) (EventPage, error) {
	values := url.Values{}
	if q.Type != "" {
		values.Set("type", q.Type)
	}
	if q.Market != "" {
		values.Set("market", q.Market)
	}
	if q.Account != "" {
		values.Set("account", q.Account)
	}
	if q.After > 0 {
		values.Set("after", strconv.FormatUint(q.After, 10))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	var out EventPage
	err := c.do(ctx, http.MethodGet, "/events", values, nil, &out)
	return out, err
}
