package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
	nativecommon "lendcore/native/common"
	"lendcore/native/ledger"
	"lendcore/native/lending"
)

var (
	ErrClosed         = errors.New("registry: closed")
	ErrUnknownMarket  = errors.New("registry: unknown market")
	ErrUnknownMaster  = errors.New("registry: unknown master")
	ErrMasterExists   = errors.New("registry: master already registered")
	ErrMarketExists   = errors.New("registry: market already deployed")
	ErrInvalidRequest = errors.New("registry: invalid request")
)

// Registry deploys markets from registered master templates, tracks them,
// whitelists swap venues and is the sole authority markets accept admin
// calls from. A Registry is not safe for concurrent use.
type Registry struct {
	address crypto.Address
	state   lending.State
	ledger  *ledger.Store
	logger  *slog.Logger
	opts    []lending.Option

	rec     *record
	markets map[crypto.Address]*lending.Market
	closers []func()
	closed  bool
}

var (
	_ lending.Authority      = (*Registry)(nil)
	_ lending.ReferenceDebt  = (*Registry)(nil)
	_ nativecommon.PauseView = (*Registry)(nil)
)

// Option customises a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMarketOptions applies opts to every market the registry deploys.
func WithMarketOptions(opts ...lending.Option) Option {
	return func(r *Registry) {
		r.opts = append(r.opts, opts...)
	}
}

// Open loads the registry stored at address or creates it with the given
// owner and treasury.
func Open(state lending.State, store *ledger.Store, address, owner, treasury crypto.Address, opts ...Option) (*Registry, error) {
	switch {
	case state == nil || store == nil:
		return nil, fmt.Errorf("%w: state and ledger required", ErrInvalidRequest)
	case address.IsZero():
		return nil, fmt.Errorf("%w: registry address required", ErrInvalidRequest)
	}
	r := &Registry{
		address: address,
		state:   state,
		ledger:  store,
		logger:  slog.Default(),
		markets: make(map[crypto.Address]*lending.Market),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	rec, ok, err := r.load()
	if err != nil {
		return nil, err
	}
	if !ok {
		if owner.IsZero() {
			return nil, fmt.Errorf("%w: owner required", ErrInvalidRequest)
		}
		rec = &record{Owner: owner, Treasury: treasury}
		if rec.Treasury.IsZero() {
			rec.Treasury = owner
		}
		if err := r.state.Atomic(func() error { return r.save(rec) }); err != nil {
			return nil, err
		}
	}
	r.rec = rec
	return r, nil
}

func (r *Registry) load() (*record, bool, error) {
	rec := new(record)
	ok, err := r.state.KVGet(recordKey(r.address), rec)
	if err != nil {
		return nil, false, fmt.Errorf("registry: load: %w", err)
	}
	return rec, ok, nil
}

func (r *Registry) save(rec *record) error {
	if err := r.state.KVPut(recordKey(r.address), rec); err != nil {
		return fmt.Errorf("registry: store: %w", err)
	}
	return nil
}

// mutate applies fn to a copy of the record and persists it atomically.
func (r *Registry) mutate(ctx context.Context, fn func(rec *record) error) error {
	if err := r.requireOwner(ctx); err != nil {
		return err
	}
	next := r.rec.clone()
	err := r.state.Atomic(func() error {
		if err := fn(next); err != nil {
			return err
		}
		return r.save(next)
	})
	if err != nil {
		return err
	}
	r.rec = next
	return nil
}

func (r *Registry) requireOpen() error {
	if r.closed {
		return ErrClosed
	}
	return nil
}

func (r *Registry) requireOwner(ctx context.Context) error {
	if err := r.requireOpen(); err != nil {
		return err
	}
	if sender := lending.Sender(ctx); sender != r.rec.Owner {
		return fmt.Errorf("%w: registry owner only", lending.ErrUnauthorized)
	}
	return nil
}

// asAuthority returns a context whose sender is the registry.
func (r *Registry) asAuthority(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return lending.WithSender(ctx, r.address)
}

// Address implements lending.Authority.
func (r *Registry) Address() crypto.Address { return r.address }

// Owner returns the account allowed to administer the registry.
func (r *Registry) Owner() crypto.Address { return r.rec.Owner }

// FeeRecipient implements lending.Authority.
func (r *Registry) FeeRecipient() crypto.Address { return r.rec.Treasury }

// IsSwapper implements lending.Authority.
func (r *Registry) IsSwapper(addr crypto.Address) bool {
	if r.closed {
		return false
	}
	for _, swapper := range r.rec.Swappers {
		if swapper == addr {
			return true
		}
	}
	return false
}

// IsPaused implements lending.Authority. A closed registry pauses
// everything.
func (r *Registry) IsPaused(module string) bool {
	if r.closed {
		return true
	}
	module = strings.TrimSpace(module)
	for _, paused := range r.rec.Paused {
		if paused == module {
			return true
		}
	}
	return false
}

// ReferenceDebt implements lending.ReferenceDebt with the total debt of the
// reference market, or zero when none is deployed.
func (r *Registry) ReferenceDebt() *uint256.Int {
	market, ok := r.markets[r.rec.Reference]
	if !ok {
		return new(uint256.Int)
	}
	st, err := market.LoadState()
	if err != nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(st.TotalBorrow.Elastic)
}

// Reference returns the reference market address.
func (r *Registry) Reference() crypto.Address { return r.rec.Reference }

// TransferOwnership hands the registry to owner.
func (r *Registry) TransferOwnership(ctx context.Context, owner crypto.Address) error {
	if owner.IsZero() {
		return fmt.Errorf("%w: owner required", ErrInvalidRequest)
	}
	return r.mutate(ctx, func(rec *record) error {
		rec.Owner = owner
		r.state.Emit(events.RegistryOwnerUpdated{Registry: r.address, Owner: rec.Owner, Treasury: rec.Treasury})
		return nil
	})
}

// SetTreasury changes the protocol fee recipient.
func (r *Registry) SetTreasury(ctx context.Context, treasury crypto.Address) error {
	if treasury.IsZero() {
		return fmt.Errorf("%w: treasury required", ErrInvalidRequest)
	}
	return r.mutate(ctx, func(rec *record) error {
		rec.Treasury = treasury
		r.state.Emit(events.RegistryOwnerUpdated{Registry: r.address, Owner: rec.Owner, Treasury: rec.Treasury})
		return nil
	})
}

// SetSwapper adds or removes a swap venue from the whitelist.
func (r *Registry) SetSwapper(ctx context.Context, swapper crypto.Address, allowed bool) error {
	if swapper.IsZero() {
		return fmt.Errorf("%w: swapper required", ErrInvalidRequest)
	}
	return r.mutate(ctx, func(rec *record) error {
		rec.Swappers = setMember(rec.Swappers, swapper, allowed)
		r.state.Emit(events.RegistrySwapperUpdated{Registry: r.address, Swapper: swapper, Allowed: allowed})
		return nil
	})
}

// Swappers lists the whitelisted venues.
func (r *Registry) Swappers() []crypto.Address {
	return append([]crypto.Address(nil), r.rec.Swappers...)
}

// SetPaused pauses or resumes module protocol-wide. nativecommon.GlobalModule
// pauses every module.
func (r *Registry) SetPaused(ctx context.Context, module string, paused bool) error {
	module = strings.TrimSpace(module)
	if module == "" {
		return fmt.Errorf("%w: module required", ErrInvalidRequest)
	}
	return r.mutate(ctx, func(rec *record) error {
		rec.Paused = setString(rec.Paused, module, paused)
		r.state.Emit(events.RegistryPauseUpdated{Registry: r.address, Module: module, Paused: paused})
		return nil
	})
}

// PausedModules lists the modules paused protocol-wide.
func (r *Registry) PausedModules() []string {
	return append([]string(nil), r.rec.Paused...)
}

func setMember(list []crypto.Address, addr crypto.Address, present bool) []crypto.Address {
	out := make([]crypto.Address, 0, len(list)+1)
	for _, existing := range list {
		if existing != addr {
			out = append(out, existing)
		}
	}
	if present {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

func setString(list []string, value string, present bool) []string {
	out := make([]string, 0, len(list)+1)
	for _, existing := range list {
		if existing != value {
			out = append(out, existing)
		}
	}
	if present {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

// Close detaches every market and releases oracle resources. Markets stay
// persisted; a closed registry reports everything paused.
func (r *Registry) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	for _, closeFn := range r.closers {
		closeFn()
	}
	r.closers = nil
	r.markets = make(map[crypto.Address]*lending.Market)
	r.logger.Info("registry closed")
	return nil
}
