package oracle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// FeedHealth summarises the observations recorded for one pair.
type FeedHealth struct {
	Pair         string    `json:"pair"`
	Source       string    `json:"source"`
	LastObserved time.Time `json:"lastObserved"`
	Observations int       `json:"observations"`
}

// Aggregator consults registered sources in priority order until one returns
// a fresh quote.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]PriceSource
	maxAge   time.Duration
	now      func() time.Time
	health   map[string]FeedHealth
}

// NewAggregator constructs an aggregator with the supplied priority list and
// freshness window. A zero maxAge disables the freshness check.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	prio := make([]string, 0, len(priority))
	for _, name := range priority {
		if trimmed := strings.ToLower(strings.TrimSpace(name)); trimmed != "" {
			prio = append(prio, trimmed)
		}
	}
	return &Aggregator{
		priority: prio,
		sources:  make(map[string]PriceSource),
		maxAge:   maxAge,
		now:      time.Now,
		health:   make(map[string]FeedHealth),
	}
}

// SetClock overrides the freshness clock.
func (a *Aggregator) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Register adds or replaces a source. Names are case-insensitive; unknown
// names are appended to the priority list.
func (a *Aggregator) Register(name string, source PriceSource) {
	if a == nil || source == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[trimmed] = source
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// Sources returns the registered source names in priority order.
func (a *Aggregator) Sources() []string {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.priority))
	for _, name := range a.priority {
		if _, ok := a.sources[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// GetRate implements PriceSource.
func (a *Aggregator) GetRate(ctx context.Context, base, quote string) (Quote, error) {
	if a == nil {
		return Quote{}, fmt.Errorf("oracle aggregator not configured")
	}
	if normaliseSymbol(base) == "" || normaliseSymbol(quote) == "" {
		return Quote{}, fmt.Errorf("oracle: base and quote required")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	now := a.now
	a.mu.RUnlock()

	var cutoff time.Time
	if maxAge > 0 {
		cutoff = now().Add(-maxAge)
	}
	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		source := a.sources[name]
		a.mu.RUnlock()
		if source == nil {
			continue
		}
		q, err := source.GetRate(ctx, base, quote)
		if err != nil {
			lastErr = fmt.Errorf("source %s: %w", name, err)
			continue
		}
		if q.Rate == nil || q.Rate.Sign() <= 0 {
			lastErr = fmt.Errorf("source %s: %w", name, ErrInvalidRate)
			continue
		}
		if maxAge > 0 && q.Timestamp.Before(cutoff) {
			lastErr = fmt.Errorf("source %s: %w", name, ErrNoFreshQuote)
			continue
		}
		result := q.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = name
		}
		a.observe(pairKey(base, quote), result)
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return Quote{}, lastErr
}

func (a *Aggregator) observe(pair string, q Quote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry := a.health[pair]
	entry.Pair = pair
	entry.Source = q.Source
	entry.LastObserved = q.Timestamp
	entry.Observations++
	a.health[pair] = entry
}

// Health reports the last observation for every pair served so far.
func (a *Aggregator) Health() []FeedHealth {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	feeds := make([]FeedHealth, 0, len(a.health))
	for _, entry := range a.health {
		feeds = append(feeds, entry)
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].Pair < feeds[j].Pair })
	return feeds
}
