package lending

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
	nativecommon "lendcore/native/common"
	"lendcore/observability"
)

// ModuleName is the pause key markets consult on their Authority.
const ModuleName = "lending"

var (
	marketPrefix        = []byte("lending/market/")
	positionPrefix      = []byte("lending/position/")
	positionIndexPrefix = []byte("lending/positions/")
	operatorPrefix      = []byte("lending/operator/")
)

func marketKey(market crypto.Address) []byte {
	return append(append([]byte(nil), marketPrefix...), market[:]...)
}

func positionKey(market, account crypto.Address) []byte {
	key := append(append([]byte(nil), positionPrefix...), market[:]...)
	return append(key, account[:]...)
}

func positionIndexKey(market crypto.Address) []byte {
	return append(append([]byte(nil), positionIndexPrefix...), market[:]...)
}

func operatorKey(market, owner, operator crypto.Address) []byte {
	key := append(append([]byte(nil), operatorPrefix...), market[:]...)
	key = append(key, owner[:]...)
	return append(key, operator[:]...)
}

// Params wires a market to its collaborators. Asset ids, the oracle and the
// ledger are fixed for the market's lifetime.
type Params struct {
	Address       crypto.Address
	CollateralID  AssetID
	AssetID       AssetID
	Ledger        Ledger
	Oracle        Oracle
	Authority     Authority
	InterestModel InterestModel
	Modules       []Module
}

// Option customises a Market.
type Option func(*Market)

// WithClock overrides the unix-seconds time source used for accrual.
func WithClock(now func() uint64) Option {
	return func(m *Market) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Market) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Market is a lending pool pairing one collateral asset with one borrowable
// asset. A Market is not safe for concurrent use; callers serialize access.
type Market struct {
	address      crypto.Address
	collateralID AssetID
	assetID      AssetID
	state        State
	ledger       Ledger
	oracle       Oracle
	authority    Authority
	model        InterestModel
	modules      map[ModuleKind]Module
	now          func() uint64
	logger       *slog.Logger
	metrics      *observability.LendingMetrics
}

// NewMarket builds a market handle. Call Init once before use.
func NewMarket(state State, params Params, opts ...Option) (*Market, error) {
	switch {
	case state == nil:
		return nil, fmt.Errorf("%w: state required", ErrInvalidParameter)
	case params.Address.IsZero():
		return nil, fmt.Errorf("%w: market address required", ErrInvalidParameter)
	case params.CollateralID == params.AssetID:
		return nil, fmt.Errorf("%w: collateral and borrow asset must differ", ErrInvalidParameter)
	case params.Ledger == nil:
		return nil, fmt.Errorf("%w: ledger required", ErrInvalidParameter)
	case params.Oracle == nil:
		return nil, fmt.Errorf("%w: oracle required", ErrInvalidParameter)
	case params.Authority == nil:
		return nil, fmt.Errorf("%w: authority required", ErrInvalidParameter)
	case params.InterestModel == nil:
		return nil, fmt.Errorf("%w: interest model required", ErrInvalidParameter)
	}
	m := &Market{
		address:      params.Address,
		collateralID: params.CollateralID,
		assetID:      params.AssetID,
		state:        state,
		ledger:       params.Ledger,
		oracle:       params.Oracle,
		authority:    params.Authority,
		model:        params.InterestModel,
		modules:      make(map[ModuleKind]Module),
		now:          func() uint64 { return uint64(time.Now().Unix()) },
		logger:       slog.Default(),
		metrics:      observability.Lending(),
	}
	for _, module := range params.Modules {
		if module == nil {
			continue
		}
		m.modules[module.Kind()] = module
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("market", m.address.String())
	return m, nil
}

// Address returns the market account on the ledger.
func (m *Market) Address() crypto.Address { return m.address }

// CollateralID returns the collateral asset id.
func (m *Market) CollateralID() AssetID { return m.collateralID }

// AssetID returns the borrowable asset id.
func (m *Market) AssetID() AssetID { return m.assetID }

// Ledger returns the market's ledger handle.
func (m *Market) Ledger() Ledger { return m.ledger }

// InterestModel returns the configured rate model.
func (m *Market) InterestModel() InterestModel { return m.model }

// Now returns the market clock in unix seconds.
func (m *Market) Now() uint64 { return m.now() }

// Init stores the configuration and starts the interest clock. It may run
// exactly once and only through the authority.
func (m *Market) Init(ctx context.Context, cfg MarketConfig) error {
	if err := m.requireAuthority(ctx); err != nil {
		return err
	}
	if cfg.TotalBorrowCap == nil {
		cfg.TotalBorrowCap = zero()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return m.run("init", func() error {
		existing, ok, err := m.loadRaw()
		if err != nil {
			return err
		}
		if ok && existing.Initialized {
			return ErrAlreadyInitialized
		}
		st := &MarketState{
			Initialized: true,
			TotalAsset:  NewRebase(),
			TotalBorrow: NewRebase(),
			Accrue: AccrueInfo{
				LastAccrued:        m.now(),
				InterestPerSecond:  m.model.Initial(),
				FeesEarnedFraction: zero(),
			},
			Config: cfg.Clone(),
		}
		st.normalize()
		m.updateExchangeRate(ctx, st)
		return m.saveState(st)
	})
}

// run executes fn atomically and records metrics.
func (m *Market) run(operation string, fn func() error) error {
	start := time.Now()
	err := m.state.Atomic(fn)
	m.metrics.ObserveOperation(m.address.Hex(), operation, err, time.Since(start),
		ErrInsolvent, ErrBorrowCapReached, ErrInsufficientFunds, ErrInsufficientCollateral,
		ErrMarketPaused, ErrInvalidSwapper, ErrSwapInsufficient, ErrModuleNotSet, ErrUnauthorized)
	return err
}

func (m *Market) loadRaw() (*MarketState, bool, error) {
	st := new(MarketState)
	ok, err := m.state.KVGet(marketKey(m.address), st)
	if err != nil {
		return nil, false, fmt.Errorf("lending: load market: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	st.normalize()
	return st, true, nil
}

// LoadState returns the persisted market record.
func (m *Market) LoadState() (*MarketState, error) {
	st, ok, err := m.loadRaw()
	if err != nil {
		return nil, err
	}
	if !ok || !st.Initialized {
		return nil, ErrNotInitialized
	}
	return st, nil
}

func (m *Market) saveState(st *MarketState) error {
	st.normalize()
	if err := m.state.KVPut(marketKey(m.address), st); err != nil {
		return fmt.Errorf("lending: store market: %w", err)
	}
	return nil
}

// bookMark pairs the market's borrow-asset ledger balance with the share
// total its books account for.
type bookMark struct {
	balance *uint256.Int
	booked  *uint256.Int
}

func (m *Market) markBooks(st *MarketState) bookMark {
	return bookMark{balance: m.ledger.BalanceOf(m.address, m.assetID), booked: clone(st.TotalAsset.Elastic)}
}

// inflowSince returns the borrow-asset shares that reached the market after
// mark without being booked, counting sent as already returned. Deposits and
// repayments made by re-entrant calls move balance and books together and
// never count. The reloaded state is returned for the caller to extend.
func (m *Market) inflowSince(mark bookMark, sent *uint256.Int) (*uint256.Int, *MarketState, error) {
	fresh, err := m.LoadState()
	if err != nil {
		return nil, nil, err
	}
	balance := m.ledger.BalanceOf(m.address, m.assetID)
	gained := add(add(balance, sent), mark.booked)
	spent := add(mark.balance, fresh.TotalAsset.Elastic)
	return subFloor(gained, spent), fresh, nil
}

// LoadPosition returns the account's position, zeroed when absent.
func (m *Market) LoadPosition(account crypto.Address) (*Position, error) {
	pos := NewPosition()
	ok, err := m.state.KVGet(positionKey(m.address, account), pos)
	if err != nil {
		return nil, fmt.Errorf("lending: load position: %w", err)
	}
	if !ok {
		return NewPosition(), nil
	}
	pos.normalize()
	return pos, nil
}

// StorePosition persists pos. Empty positions are deleted so no dangling
// record remains after a full repay and withdrawal.
func (m *Market) StorePosition(account crypto.Address, pos *Position) error {
	key := positionKey(m.address, account)
	if pos.IsEmpty() {
		if err := m.state.KVDelete(key); err != nil {
			return fmt.Errorf("lending: delete position: %w", err)
		}
		return nil
	}
	pos.normalize()
	if err := m.state.KVPut(key, pos); err != nil {
		return fmt.Errorf("lending: store position: %w", err)
	}
	if err := m.state.KVAppend(positionIndexKey(m.address), account[:]); err != nil {
		return fmt.Errorf("lending: index position: %w", err)
	}
	return nil
}

// Accounts lists every account that ever held a position, in first-seen
// order.
func (m *Market) Accounts() ([]crypto.Address, error) {
	var raw [][]byte
	if err := m.state.KVGetList(positionIndexKey(m.address), &raw); err != nil {
		return nil, fmt.Errorf("lending: load position index: %w", err)
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, entry := range raw {
		out = append(out, crypto.BytesToAddress(entry))
	}
	return out, nil
}

// IsOperator reports whether operator may act for owner on this market.
func (m *Market) IsOperator(owner, operator crypto.Address) (bool, error) {
	var approved bool
	ok, err := m.state.KVGet(operatorKey(m.address, owner, operator), &approved)
	if err != nil {
		return false, fmt.Errorf("lending: load operator: %w", err)
	}
	return ok && approved, nil
}

// SetOperator grants or revokes operator rights over the caller's position.
func (m *Market) SetOperator(ctx context.Context, operator crypto.Address, approved bool) error {
	owner := Sender(ctx)
	if owner.IsZero() || operator.IsZero() {
		return fmt.Errorf("%w: owner and operator required", ErrInvalidParameter)
	}
	return m.run("set_operator", func() error {
		key := operatorKey(m.address, owner, operator)
		if approved {
			if err := m.state.KVPut(key, true); err != nil {
				return err
			}
		} else if err := m.state.KVDelete(key); err != nil {
			return err
		}
		m.state.Emit(events.LendingOperatorApproval{Market: m.address, Owner: owner, Operator: operator, Approved: approved})
		return nil
	})
}

// authorize checks the caller may debit owner.
func (m *Market) authorize(ctx context.Context, owner crypto.Address) error {
	if owner.IsZero() {
		return fmt.Errorf("%w: account required", ErrInvalidParameter)
	}
	sender := Sender(ctx)
	if sender == owner {
		return nil
	}
	if sender.IsZero() {
		return ErrUnauthorized
	}
	ok, err := m.IsOperator(owner, sender)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not act for %s", ErrUnauthorized, sender, owner)
	}
	return nil
}

func (m *Market) requireAuthority(ctx context.Context) error {
	if Sender(ctx) != m.authority.Address() {
		return fmt.Errorf("%w: authority only", ErrUnauthorized)
	}
	return nil
}

// guard rejects position operations while the market or the whole protocol
// is paused.
func (m *Market) guard(st *MarketState) error {
	if st.Config.Paused {
		return ErrMarketPaused
	}
	if err := nativecommon.Guard(m.authority, ModuleName); err != nil {
		return fmt.Errorf("%w: %v", ErrMarketPaused, err)
	}
	return nil
}

// Accrue rolls interest forward to the current time. Calling it again in the
// same second changes nothing.
func (m *Market) Accrue(ctx context.Context) error {
	return m.run("accrue", func() error {
		st, err := m.LoadState()
		if err != nil {
			return err
		}
		if !m.accrue(st) {
			return nil
		}
		return m.saveState(st)
	})
}

// accrue applies interest for the time elapsed since the last accrual and
// reports whether st changed.
func (m *Market) accrue(st *MarketState) bool {
	now := m.now()
	if now <= st.Accrue.LastAccrued {
		return false
	}
	elapsed := now - st.Accrue.LastAccrued
	st.Accrue.LastAccrued = now

	if isZero(st.TotalBorrow.Base) {
		st.Accrue.InterestPerSecond = m.model.Next(st.Accrue.InterestPerSecond, RateSnapshot{Utilization: zero(), TotalDebt: zero()}, elapsed)
		return true
	}

	extra := mulDiv(mul(st.TotalBorrow.Elastic, st.Accrue.InterestPerSecond), u64(elapsed), ExchangeRatePrecision)
	st.TotalBorrow.Elastic = add(st.TotalBorrow.Elastic, extra)

	fullAssetAmount := add(m.ledger.ToAmount(m.assetID, st.TotalAsset.Elastic, false), st.TotalBorrow.Elastic)
	feeAmount := mulDiv(extra, u64(st.Config.ProtocolFee), feePrecision)
	feeFraction := mulDiv(feeAmount, st.TotalAsset.Base, subFloor(fullAssetAmount, feeAmount))
	st.Accrue.FeesEarnedFraction = add(st.Accrue.FeesEarnedFraction, feeFraction)
	st.TotalAsset.Base = add(st.TotalAsset.Base, feeFraction)

	utilization := mulDiv(st.TotalBorrow.Elastic, utilizationPrecision, fullAssetAmount)
	st.Accrue.InterestPerSecond = m.model.Next(st.Accrue.InterestPerSecond, RateSnapshot{
		Utilization:  utilization,
		TotalDebt:    clone(st.TotalBorrow.Elastic),
		HasBorrowers: true,
	}, elapsed)

	m.metrics.RecordAccrual(m.address.Hex(), toFloat(extra))
	m.state.Emit(events.LendingAccrued{
		Market:            m.address,
		Accrued:           extra,
		FeeFraction:       feeFraction,
		InterestPerSecond: clone(st.Accrue.InterestPerSecond),
		Utilization:       utilization,
		Timestamp:         now,
	})
	return true
}

// refreshRate re-derives the stored rate without accruing, used after new
// debt is issued.
func (m *Market) refreshRate(st *MarketState) {
	fullAssetAmount := add(m.ledger.ToAmount(m.assetID, st.TotalAsset.Elastic, false), st.TotalBorrow.Elastic)
	st.Accrue.InterestPerSecond = m.model.Next(st.Accrue.InterestPerSecond, RateSnapshot{
		Utilization:  mulDiv(st.TotalBorrow.Elastic, utilizationPrecision, fullAssetAmount),
		TotalDebt:    clone(st.TotalBorrow.Elastic),
		HasBorrowers: !isZero(st.TotalBorrow.Base),
	}, 0)
}

// UpdateExchangeRate pulls a fresh oracle quote. Oracle failures keep the
// cached rate and report false; they never fail the caller.
func (m *Market) UpdateExchangeRate(ctx context.Context) (bool, *uint256.Int, error) {
	var (
		updated bool
		rate    *uint256.Int
	)
	err := m.run("update_exchange_rate", func() error {
		st, err := m.LoadState()
		if err != nil {
			return err
		}
		updated = m.updateExchangeRate(ctx, st)
		rate = clone(st.ExchangeRate)
		if !updated {
			return nil
		}
		return m.saveState(st)
	})
	return updated, rate, err
}

func (m *Market) updateExchangeRate(ctx context.Context, st *MarketState) bool {
	rate, err := m.oracle.Get(ctx)
	if err == nil && isZero(rate) {
		err = fmt.Errorf("%w: zero rate", ErrOracleUnavailable)
	}
	if err != nil {
		m.metrics.RecordOracleFailure(m.address.Hex())
		m.logger.Warn("oracle unavailable, keeping cached exchange rate",
			slog.String("cached", clone(st.ExchangeRate).Dec()),
			slog.Any("error", err))
		return false
	}
	if st.ExchangeRate.Eq(rate) {
		return true
	}
	st.ExchangeRate = clone(rate)
	m.metrics.SetExchangeRate(m.address.Hex(), toFloat(rate)/1e18)
	m.state.Emit(events.LendingExchangeRate{Market: m.address, Rate: clone(rate)})
	return true
}

// PeekExchangeRate reads the oracle without touching state.
func (m *Market) PeekExchangeRate(ctx context.Context) (*uint256.Int, error) {
	rate, err := m.oracle.Peek(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	return rate, nil
}

// Position returns the account's position.
func (m *Market) Position(account crypto.Address) (*Position, error) {
	return m.LoadPosition(account)
}

// BorrowAmount returns the account's debt in borrow-asset amount, rounded up.
func (m *Market) BorrowAmount(account crypto.Address) (*uint256.Int, error) {
	st, err := m.LoadState()
	if err != nil {
		return nil, err
	}
	pos, err := m.LoadPosition(account)
	if err != nil {
		return nil, err
	}
	return st.TotalBorrow.ToElastic(pos.BorrowPart, true), nil
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
