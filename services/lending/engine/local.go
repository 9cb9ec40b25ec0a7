package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	"lendcore/core/types"
	"lendcore/crypto"
	"lendcore/native/ledger"
	"lendcore/native/lending"
	"lendcore/native/liquidationqueue"
	"lendcore/native/oracle"
	"lendcore/native/registry"
)

// Local runs the engine in-process. Every call holds one mutex, so
// operations are serialized and globally ordered.
type Local struct {
	mu       sync.Mutex
	ledger   *ledger.Store
	registry *registry.Registry
	swappers map[crypto.Address]lending.Swapper
	queues   map[crypto.Address]*liquidationqueue.Queue
	hub      *Hub
	logger   *slog.Logger
}

var _ Engine = (*Local)(nil)

// LocalOption customises Local.
type LocalOption func(*Local)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithHub shares an existing hub, typically the one wired as state emitter.
func WithHub(hub *Hub) LocalOption {
	return func(l *Local) {
		if hub != nil {
			l.hub = hub
		}
	}
}

// NewLocal wraps a ledger and a registry.
func NewLocal(store *ledger.Store, reg *registry.Registry, opts ...LocalOption) (*Local, error) {
	if store == nil || reg == nil {
		return nil, fmt.Errorf("engine: ledger and registry required")
	}
	l := &Local{
		ledger:   store,
		registry: reg,
		swappers: make(map[crypto.Address]lending.Swapper),
		queues:   make(map[crypto.Address]*liquidationqueue.Queue),
		hub:      NewHub(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "engine")
	return l, nil
}

// AddSwapper makes a venue available to Liquidate. Liquidation queues also
// become reachable through the bid operations. The registry whitelist still
// decides whether markets accept the venue.
func (l *Local) AddSwapper(s lending.Swapper) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.swappers[s.Address()] = s
	if q, ok := s.(*liquidationqueue.Queue); ok {
		l.queues[q.Address()] = q
	}
}

// Hub exposes the event hub.
func (l *Local) Hub() *Hub { return l.hub }

// Subscribe implements Engine.
func (l *Local) Subscribe(buffer int) (<-chan *types.Event, func()) {
	return l.hub.Subscribe(buffer)
}

func parseAddress(raw string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return addr, nil
}

// parseTarget parses an optional address, defaulting to fallback.
func parseTarget(raw string, fallback crypto.Address) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return parseAddress(raw)
}

func parseAmount(raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: value required", ErrInvalidAmount)
	}
	v, err := lending.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return v, nil
}

func sender(ctx context.Context) (crypto.Address, error) {
	s := lending.Sender(ctx)
	if s.IsZero() {
		return crypto.Address{}, ErrUnauthenticated
	}
	return s, nil
}

func (l *Local) market(raw string) (*lending.Market, error) {
	addr, err := parseAddress(raw)
	if err != nil {
		return nil, err
	}
	m, err := l.registry.Market(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return m, nil
}

func (l *Local) queue(raw string) (*liquidationqueue.Queue, error) {
	addr, err := parseAddress(raw)
	if err != nil {
		return nil, err
	}
	q, ok := l.queues[addr]
	if !ok {
		return nil, fmt.Errorf("%w: queue %s", ErrNotFound, addr)
	}
	return q, nil
}

// ListMarkets implements Engine.
func (l *Local) ListMarkets(ctx context.Context) ([]MarketView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	records := l.registry.Markets()
	out := make([]MarketView, 0, len(records))
	for _, rec := range records {
		m, err := l.registry.Market(rec.Address)
		if err != nil {
			continue
		}
		st, err := m.LoadState()
		if err != nil {
			return nil, err
		}
		out = append(out, newMarketView(m, st))
	}
	return out, nil
}

// GetMarket implements Engine.
func (l *Local) GetMarket(ctx context.Context, market string) (MarketView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.market(market)
	if err != nil {
		return MarketView{}, err
	}
	st, err := m.LoadState()
	if err != nil {
		return MarketView{}, err
	}
	return newMarketView(m, st), nil
}

// GetPosition implements Engine.
func (l *Local) GetPosition(ctx context.Context, market, account string) (PositionView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.market(market)
	if err != nil {
		return PositionView{}, err
	}
	acct, err := parseAddress(account)
	if err != nil {
		return PositionView{}, err
	}
	return positionView(m, acct)
}

func positionView(m *lending.Market, acct crypto.Address) (PositionView, error) {
	pos, err := m.Position(acct)
	if err != nil {
		return PositionView{}, err
	}
	debt, err := m.BorrowAmount(acct)
	if err != nil {
		return PositionView{}, err
	}
	solvent, err := m.IsSolvent(acct, false)
	if err != nil {
		return PositionView{}, err
	}
	safe, err := m.IsSolvent(acct, true)
	if err != nil {
		return PositionView{}, err
	}
	st, err := m.LoadState()
	if err != nil {
		return PositionView{}, err
	}
	closing, err := m.ComputeClosingFactor(acct, st.ExchangeRate)
	if err != nil {
		return PositionView{}, err
	}
	return PositionView{
		Market:          m.Address().String(),
		Account:         acct.String(),
		CollateralShare: dec(pos.CollateralShare),
		BorrowPart:      dec(pos.BorrowPart),
		BorrowAmount:    dec(debt),
		AssetFraction:   dec(pos.AssetFraction),
		Solvent:         solvent,
		Liquidatable:    !safe,
		ClosingFactor:   dec(closing),
	}, nil
}

// Liquidatable lists accounts of market that fail the liquidation check at
// the cached exchange rate.
func (l *Local) Liquidatable(ctx context.Context, market string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.market(market)
	if err != nil {
		return nil, err
	}
	accounts, err := m.Accounts()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0)
	for _, acct := range accounts {
		safe, err := m.IsSolvent(acct, true)
		if err != nil {
			return nil, err
		}
		if !safe {
			out = append(out, acct.String())
		}
	}
	return out, nil
}

// AddCollateral implements Engine.
func (l *Local) AddCollateral(ctx context.Context, market, to, share string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	from, err := sender(ctx)
	if err != nil {
		return err
	}
	m, err := l.market(market)
	if err != nil {
		return err
	}
	dst, err := parseTarget(to, from)
	if err != nil {
		return err
	}
	amount, err := parseAmount(share)
	if err != nil {
		return err
	}
	return m.AddCollateral(ctx, from, dst, amount)
}

// RemoveCollateral implements Engine.
func (l *Local) RemoveCollateral(ctx context.Context, market, to, share string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	from, err := sender(ctx)
	if err != nil {
		return err
	}
	m, err := l.market(market)
	if err != nil {
		return err
	}
	dst, err := parseTarget(to, from)
	if err != nil {
		return err
	}
	amount, err := parseAmount(share)
	if err != nil {
		return err
	}
	return m.RemoveCollateral(ctx, from, dst, amount)
}

// Borrow implements Engine.
func (l *Local) Borrow(ctx context.Context, market, to, amount string) (BorrowView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	from, err := sender(ctx)
	if err != nil {
		return BorrowView{}, err
	}
	m, err := l.market(market)
	if err != nil {
		return BorrowView{}, err
	}
	dst, err := parseTarget(to, from)
	if err != nil {
		return BorrowView{}, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return BorrowView{}, err
	}
	part, share, err := m.Borrow(ctx, from, dst, value)
	if err != nil {
		return BorrowView{}, err
	}
	return BorrowView{Part: dec(part), Share: dec(share)}, nil
}

// Repay implements Engine. The sender pays; to is the debtor.
func (l *Local) Repay(ctx context.Context, market, to string, partPayment bool, value string) (RepayView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	from, err := sender(ctx)
	if err != nil {
		return RepayView{}, err
	}
	m, err := l.market(market)
	if err != nil {
		return RepayView{}, err
	}
	dst, err := parseTarget(to, from)
	if err != nil {
		return RepayView{}, err
	}
	v, err := parseAmount(value)
	if err != nil {
		return RepayView{}, err
	}
	amount, part, err := m.Repay(ctx, from, dst, partPayment, v)
	if err != nil {
		return RepayView{}, err
	}
	return RepayView{Amount: dec(amount), Part: dec(part)}, nil
}

// AddAsset implements Engine and returns the minted fraction.
func (l *Local) AddAsset(ctx context.Context, market, to, share string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	from, err := sender(ctx)
	if err != nil {
		return "", err
	}
	m, err := l.market(market)
	if err != nil {
		return "", err
	}
	dst, err := parseTarget(to, from)
	if err != nil {
		return "", err
	}
	amount, err := parseAmount(share)
	if err != nil {
		return "", err
	}
	fraction, err := m.AddAsset(ctx, from, dst, amount)
	if err != nil {
		return "", err
	}
	return dec(fraction), nil
}

// RemoveAsset implements Engine and returns the paid share.
func (l *Local) RemoveAsset(ctx context.Context, market, to, fraction string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	from, err := sender(ctx)
	if err != nil {
		return "", err
	}
	m, err := l.market(market)
	if err != nil {
		return "", err
	}
	dst, err := parseTarget(to, from)
	if err != nil {
		return "", err
	}
	amount, err := parseAmount(fraction)
	if err != nil {
		return "", err
	}
	share, err := m.RemoveAsset(ctx, from, dst, amount)
	if err != nil {
		return "", err
	}
	return dec(share), nil
}

// SetOperator implements Engine.
func (l *Local) SetOperator(ctx context.Context, market, operator string, approved bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := sender(ctx); err != nil {
		return err
	}
	m, err := l.market(market)
	if err != nil {
		return err
	}
	op, err := parseAddress(operator)
	if err != nil {
		return err
	}
	return m.SetOperator(ctx, op, approved)
}

// UpdatePause implements Engine. Conservator only.
func (l *Local) UpdatePause(ctx context.Context, market string, paused bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := sender(ctx); err != nil {
		return err
	}
	m, err := l.market(market)
	if err != nil {
		return err
	}
	return m.UpdatePause(ctx, paused)
}

// Liquidate implements Engine.
func (l *Local) Liquidate(ctx context.Context, market string, req LiquidateRequest) (LiquidationView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := sender(ctx); err != nil {
		return LiquidationView{}, err
	}
	m, err := l.market(market)
	if err != nil {
		return LiquidationView{}, err
	}
	accounts := make([]crypto.Address, 0, len(req.Accounts))
	for _, raw := range req.Accounts {
		acct, err := parseAddress(raw)
		if err != nil {
			return LiquidationView{}, err
		}
		accounts = append(accounts, acct)
	}
	var parts []*uint256.Int
	if len(req.MaxBorrowParts) > 0 {
		if len(req.MaxBorrowParts) != len(accounts) {
			return LiquidationView{}, fmt.Errorf("%w: %d parts for %d accounts", ErrInvalidAmount, len(req.MaxBorrowParts), len(accounts))
		}
		parts = make([]*uint256.Int, len(req.MaxBorrowParts))
		for i, raw := range req.MaxBorrowParts {
			if parts[i], err = parseAmount(raw); err != nil {
				return LiquidationView{}, err
			}
		}
	}
	var receiver lending.Swapper
	if strings.TrimSpace(req.Swapper) != "" {
		addr, err := parseAddress(req.Swapper)
		if err != nil {
			return LiquidationView{}, err
		}
		venue, ok := l.swappers[addr]
		if !ok {
			return LiquidationView{}, fmt.Errorf("%w: %s", lending.ErrInvalidSwapper, addr)
		}
		receiver = venue
	}
	res, err := m.Liquidate(ctx, accounts, parts, receiver, nil)
	if err != nil {
		return LiquidationView{}, err
	}
	return newLiquidationView(res), nil
}

// Execute implements Engine.
func (l *Local) Execute(ctx context.Context, market string, calls []lending.Call, revertOnFail bool) ([]lending.CallResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := sender(ctx); err != nil {
		return nil, err
	}
	m, err := l.market(market)
	if err != nil {
		return nil, err
	}
	return m.Execute(ctx, calls, revertOnFail)
}

// UpdateExchangeRate implements Engine. Anyone may refresh the rate.
func (l *Local) UpdateExchangeRate(ctx context.Context, market string) (RateView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.market(market)
	if err != nil {
		return RateView{}, err
	}
	updated, rate, err := m.UpdateExchangeRate(ctx)
	if err != nil {
		return RateView{}, err
	}
	view := RateView{Updated: updated, Rate: dec(rate)}
	if rate != nil && !rate.IsZero() {
		view.Price = oracle.FormatRate(rate)
	}
	return view, nil
}

// Accrue implements Engine. Anyone may accrue.
func (l *Local) Accrue(ctx context.Context, market string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.market(market)
	if err != nil {
		return err
	}
	return m.Accrue(ctx)
}

// Admin implements Engine through the registry's owner-only path.
func (l *Local) Admin(ctx context.Context, calls []registry.AdminCall, forceSuccess bool) ([]lending.CallResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := sender(ctx); err != nil {
		return nil, err
	}
	return l.registry.Execute(ctx, calls, forceSuccess)
}

// WithdrawFees implements Engine. With no markets named every live market is
// swept.
func (l *Local) WithdrawFees(ctx context.Context, markets []string) (map[string]FeeView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addrs := make([]crypto.Address, 0, len(markets))
	for _, raw := range markets {
		addr, err := parseAddress(raw)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	res, err := l.registry.WithdrawFees(ctx, addrs...)
	out := make(map[string]FeeView, len(res))
	for addr, fee := range res {
		out[addr.String()] = FeeView{Fraction: dec(fee.Fraction), Share: dec(fee.Share)}
	}
	return out, err
}

// resolveAsset accepts a numeric id or a token symbol.
func (l *Local) resolveAsset(raw string) (*ledger.Asset, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: asset required", ErrNotFound)
	}
	if id, err := strconv.ParseUint(trimmed, 10, 32); err == nil {
		asset, err := l.ledger.Asset(lending.AssetID(id))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return asset, nil
	}
	assets, err := l.ledger.Assets()
	if err != nil {
		return nil, err
	}
	for _, asset := range assets {
		if strings.EqualFold(asset.Token, trimmed) {
			return asset, nil
		}
	}
	return nil, fmt.Errorf("%w: asset %q", ErrNotFound, raw)
}

func (l *Local) balanceView(account crypto.Address, asset *ledger.Asset) BalanceView {
	share := l.ledger.BalanceOf(account, asset.ID)
	return BalanceView{
		AssetID: uint32(asset.ID),
		Token:   asset.Token,
		Share:   dec(share),
		Amount:  dec(l.ledger.AmountOf(account, asset.ID)),
		Wallet:  dec(l.ledger.WalletBalance(asset.Token, account)),
	}
}

// Balances implements Engine.
func (l *Local) Balances(ctx context.Context, account string) ([]BalanceView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := parseAddress(account)
	if err != nil {
		return nil, err
	}
	assets, err := l.ledger.Assets()
	if err != nil {
		return nil, err
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
	out := make([]BalanceView, 0, len(assets))
	for _, asset := range assets {
		out = append(out, l.balanceView(acct, asset))
	}
	return out, nil
}

// Deposit implements Engine: wallet funds of the sender become ledger shares.
func (l *Local) Deposit(ctx context.Context, asset, amount string) (BalanceView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	from, err := sender(ctx)
	if err != nil {
		return BalanceView{}, err
	}
	a, err := l.resolveAsset(asset)
	if err != nil {
		return BalanceView{}, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return BalanceView{}, err
	}
	if _, _, err := l.ledger.Operator(from).Deposit(a.ID, from, from, value, nil); err != nil {
		return BalanceView{}, err
	}
	return l.balanceView(from, a), nil
}

// Withdraw implements Engine: ledger shares of the sender return to its
// wallet.
func (l *Local) Withdraw(ctx context.Context, asset, share string) (BalanceView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	from, err := sender(ctx)
	if err != nil {
		return BalanceView{}, err
	}
	a, err := l.resolveAsset(asset)
	if err != nil {
		return BalanceView{}, err
	}
	value, err := parseAmount(share)
	if err != nil {
		return BalanceView{}, err
	}
	if _, _, err := l.ledger.Operator(from).Withdraw(a.ID, from, from, nil, value); err != nil {
		return BalanceView{}, err
	}
	return l.balanceView(from, a), nil
}

// Approve implements Engine: lets operator move the sender's ledger shares.
func (l *Local) Approve(ctx context.Context, operator string, approved bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, err := sender(ctx)
	if err != nil {
		return err
	}
	op, err := parseAddress(operator)
	if err != nil {
		return err
	}
	return l.ledger.SetApprovalForAll(owner, op, approved)
}

func bidView(b *liquidationqueue.Bid) BidView {
	return BidView{
		ID:       b.ID,
		Bidder:   b.Bidder.String(),
		Pool:     b.Pool,
		Discount: feeFraction(liquidationqueue.Discount(b.Pool)).StringFixed(2),
		Share:    dec(b.Share),
		PlacedAt: b.PlacedAt,
		Active:   b.Active,
	}
}

// PlaceBid implements Engine.
func (l *Local) PlaceBid(ctx context.Context, queue string, pool uint32, share string) (BidView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := sender(ctx); err != nil {
		return BidView{}, err
	}
	q, err := l.queue(queue)
	if err != nil {
		return BidView{}, err
	}
	value, err := parseAmount(share)
	if err != nil {
		return BidView{}, err
	}
	bid, err := q.Bid(ctx, pool, value)
	if err != nil {
		return BidView{}, err
	}
	return bidView(bid), nil
}

// ActivateBid implements Engine.
func (l *Local) ActivateBid(ctx context.Context, queue string, pool uint32, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := sender(ctx); err != nil {
		return err
	}
	q, err := l.queue(queue)
	if err != nil {
		return err
	}
	return q.ActivateBid(ctx, pool, strings.TrimSpace(id))
}

// RemoveBid implements Engine and returns the refunded share.
func (l *Local) RemoveBid(ctx context.Context, queue string, pool uint32, id string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := sender(ctx); err != nil {
		return "", err
	}
	q, err := l.queue(queue)
	if err != nil {
		return "", err
	}
	refund, err := q.RemoveBid(ctx, pool, strings.TrimSpace(id))
	if err != nil {
		return "", err
	}
	return dec(refund), nil
}

// Redeem implements Engine and returns the redeemed collateral share.
func (l *Local) Redeem(ctx context.Context, queue, to string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	from, err := sender(ctx)
	if err != nil {
		return "", err
	}
	q, err := l.queue(queue)
	if err != nil {
		return "", err
	}
	dst, err := parseTarget(to, from)
	if err != nil {
		return "", err
	}
	out, err := q.Redeem(ctx, dst)
	if err != nil {
		return "", err
	}
	return dec(out), nil
}

// ListBids implements Engine.
func (l *Local) ListBids(ctx context.Context, queue string, pool uint32) ([]BidView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, err := l.queue(queue)
	if err != nil {
		return nil, err
	}
	bids, err := q.Bids(pool)
	if err != nil {
		return nil, err
	}
	out := make([]BidView, 0, len(bids))
	for _, b := range bids {
		out = append(out, bidView(b))
	}
	return out, nil
}

// Close ends every event subscription.
func (l *Local) Close() error {
	l.hub.Close()
	return nil
}
