package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoFreshQuote indicates that no registered source produced a quote
	// within the configured freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
	// ErrQuoteNotFound is returned by sources that hold no quote for a pair.
	ErrQuoteNotFound = errors.New("oracle: quote not found")
	// ErrInvalidRate is returned for zero, negative or malformed rates.
	ErrInvalidRate = errors.New("oracle: invalid rate")
)

// Quote is the price of one unit of Base expressed in Quote units together
// with the timestamp reported upstream.
type Quote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// RateString renders the rate with the supplied number of decimals.
func (q Quote) RateString(precision int) string {
	if q.Rate == nil {
		return ""
	}
	if precision < 0 {
		precision = 18
	}
	return q.Rate.FloatString(precision)
}

// PriceSource resolves a rate for a base/quote pair.
type PriceSource interface {
	GetRate(ctx context.Context, base, quote string) (Quote, error)
}

// SourceFunc adapts a function to PriceSource.
type SourceFunc func(ctx context.Context, base, quote string) (Quote, error)

// GetRate implements PriceSource.
func (f SourceFunc) GetRate(ctx context.Context, base, quote string) (Quote, error) {
	return f(ctx, base, quote)
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func pairKey(base, quote string) string {
	return normaliseSymbol(base) + "/" + normaliseSymbol(quote)
}

// ParseRate parses a positive decimal or fractional rate.
func ParseRate(raw string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidRate)
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRate, raw)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("%w: must be positive", ErrInvalidRate)
	}
	return rat, nil
}

// ManualSource keeps operator supplied quotes in memory. It backs dev
// deployments, tests and manual overrides during incidents.
type ManualSource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManualSource constructs an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{quotes: make(map[string]Quote)}
}

// SetDecimal records a decimal rate for the pair.
func (m *ManualSource) SetDecimal(base, quote, rate string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual source not configured")
	}
	rat, err := ParseRate(rate)
	if err != nil {
		return err
	}
	m.Set(base, quote, rat, ts)
	return nil
}

// Set stores a rational rate for the pair.
func (m *ManualSource) Set(base, quote string, rate *big.Rat, ts time.Time) {
	if m == nil || rate == nil {
		return
	}
	if normaliseSymbol(base) == "" || normaliseSymbol(quote) == "" {
		return
	}
	m.mu.Lock()
	m.quotes[pairKey(base, quote)] = Quote{Rate: new(big.Rat).Set(rate), Timestamp: ts, Source: "manual"}
	m.mu.Unlock()
}

// Delete drops the quote for the pair.
func (m *ManualSource) Delete(base, quote string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.quotes, pairKey(base, quote))
	m.mu.Unlock()
}

// GetRate implements PriceSource.
func (m *ManualSource) GetRate(_ context.Context, base, quote string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual source not configured")
	}
	m.mu.RLock()
	stored, ok := m.quotes[pairKey(base, quote)]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, pairKey(base, quote))
	}
	return stored.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource polls a JSON price endpoint. Requests carry base and quote
// query parameters; the response body is {"rate": "<decimal>", "timestamp":
// <unix seconds>}.
type HTTPSource struct {
	name     string
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPSource constructs an HTTP adapter. When client is nil
// http.DefaultClient is used. The API key is only sent when supplied.
func NewHTTPSource(name string, client HTTPDoer, endpoint, apiKey string) (*HTTPSource, error) {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		return nil, fmt.Errorf("http source: endpoint required")
	}
	if _, err := url.Parse(ep); err != nil {
		return nil, fmt.Errorf("http source: invalid endpoint: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "http"
	}
	return &HTTPSource{name: name, client: client, endpoint: ep, apiKey: strings.TrimSpace(apiKey)}, nil
}

// GetRate implements PriceSource.
func (s *HTTPSource) GetRate(ctx context.Context, base, quote string) (Quote, error) {
	if s == nil {
		return Quote{}, fmt.Errorf("http source not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := req.URL.Query()
	values.Set("base", normaliseSymbol(base))
	values.Set("quote", normaliseSymbol(quote))
	req.URL.RawQuery = values.Encode()
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("%s source: status %d: %s", s.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Rate      json.Number `json:"rate"`
		Timestamp int64       `json:"timestamp"`
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("%s source: decode: %w", s.name, err)
	}
	rat, err := ParseRate(payload.Rate.String())
	if err != nil {
		return Quote{}, fmt.Errorf("%s source: %w", s.name, err)
	}
	ts := time.Now().UTC()
	if payload.Timestamp > 0 {
		ts = time.Unix(payload.Timestamp, 0).UTC()
	}
	return Quote{Rate: rat, Timestamp: ts, Source: s.name}, nil
}
