package registry

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"lendcore/core/events"
	"lendcore/crypto"
	"lendcore/native/lending"
)

// Interest model kinds a master template can select.
const (
	KindUtilization = "utilization"
	KindDebtRate    = "debt_rate"
)

// Master is a market template: an interest model kind plus the configuration
// new markets start from.
type Master struct {
	Name   string
	Kind   string
	Config lending.MarketConfig
}

// MarketRecord describes a deployed market.
type MarketRecord struct {
	Address      crypto.Address
	Master       string
	CollateralID lending.AssetID
	AssetID      lending.AssetID
	Salt         string
	Reference    bool
}

type record struct {
	Owner     crypto.Address
	Treasury  crypto.Address
	Reference crypto.Address
	Swappers  []crypto.Address
	Paused    []string
	Masters   []Master
	Markets   []MarketRecord
}

func (r *record) clone() *record {
	out := *r
	out.Swappers = append([]crypto.Address(nil), r.Swappers...)
	out.Paused = append([]string(nil), r.Paused...)
	out.Masters = make([]Master, len(r.Masters))
	for i, m := range r.Masters {
		out.Masters[i] = Master{Name: m.Name, Kind: m.Kind, Config: m.Config.Clone()}
	}
	out.Markets = append([]MarketRecord(nil), r.Markets...)
	return &out
}

func (r *record) master(name string) (Master, bool) {
	for _, m := range r.Masters {
		if m.Name == name {
			return m, true
		}
	}
	return Master{}, false
}

func (r *record) market(addr crypto.Address) (MarketRecord, bool) {
	for _, m := range r.Markets {
		if m.Address == addr {
			return m, true
		}
	}
	return MarketRecord{}, false
}

func recordKey(addr crypto.Address) []byte {
	return append([]byte("registry/"), addr[:]...)
}

// RegisterMaster adds a market template. Owner only.
func (r *Registry) RegisterMaster(ctx context.Context, master Master) error {
	master.Name = strings.TrimSpace(master.Name)
	master.Kind = strings.ToLower(strings.TrimSpace(master.Kind))
	if master.Name == "" {
		return fmt.Errorf("%w: master name required", ErrInvalidRequest)
	}
	if master.Kind != KindUtilization && master.Kind != KindDebtRate {
		return fmt.Errorf("%w: unknown interest model kind %q", ErrInvalidRequest, master.Kind)
	}
	master.Config = master.Config.Clone()
	if err := master.Config.Validate(); err != nil {
		return err
	}
	return r.mutate(ctx, func(rec *record) error {
		if _, ok := rec.master(master.Name); ok {
			return fmt.Errorf("%w: %s", ErrMasterExists, master.Name)
		}
		rec.Masters = append(rec.Masters, master)
		r.state.Emit(events.RegistryMasterRegistered{Registry: r.address, Name: master.Name, Kind: master.Kind})
		return nil
	})
}

// Masters lists the registered templates.
func (r *Registry) Masters() []Master {
	out := make([]Master, 0, len(r.rec.Masters))
	for _, m := range r.rec.Masters {
		out = append(out, Master{Name: m.Name, Kind: m.Kind, Config: m.Config.Clone()})
	}
	return out
}

// DeployRequest describes a market to clone from a master.
type DeployRequest struct {
	Master       string
	CollateralID lending.AssetID
	AssetID      lending.AssetID
	Oracle       lending.Oracle
	// Salt distinguishes several markets over the same pair.
	Salt string
	// Reference marks the market as the debt-rate reference market.
	Reference bool
	// Config overrides the master configuration when set.
	Config *lending.MarketConfig
}

// MarketAddress derives the address Deploy assigns to req.
func (r *Registry) MarketAddress(req DeployRequest) crypto.Address {
	ids := make([]byte, 8)
	binary.BigEndian.PutUint32(ids[:4], uint32(req.CollateralID))
	binary.BigEndian.PutUint32(ids[4:], uint32(req.AssetID))
	return crypto.DeriveAddress([]byte("lendcore/market"), r.address[:], []byte(strings.TrimSpace(req.Master)), ids, []byte(req.Salt))
}

// Deploy clones a master into a new market and initializes it. When the
// derived market is already persisted, Deploy re-attaches it with the
// supplied oracle instead, which is how a restarted process reloads its
// markets. The oracle is closed with the registry when it exposes Close.
func (r *Registry) Deploy(ctx context.Context, req DeployRequest) (*lending.Market, error) {
	if err := r.requireOwner(ctx); err != nil {
		return nil, err
	}
	master, ok := r.rec.master(strings.TrimSpace(req.Master))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMaster, req.Master)
	}
	if req.Oracle == nil {
		return nil, fmt.Errorf("%w: oracle required", ErrInvalidRequest)
	}
	for _, id := range []lending.AssetID{req.CollateralID, req.AssetID} {
		if _, err := r.ledger.Asset(id); err != nil {
			return nil, err
		}
	}
	addr := r.MarketAddress(req)
	if _, live := r.markets[addr]; live {
		return nil, fmt.Errorf("%w: %s", ErrMarketExists, addr)
	}
	if req.Reference && !r.rec.Reference.IsZero() && r.rec.Reference != addr {
		return nil, fmt.Errorf("%w: reference market already set", ErrInvalidRequest)
	}

	existing, persisted := r.rec.market(addr)
	isReference := req.Reference || (persisted && existing.Reference)
	model, err := r.interestModel(master.Kind, isReference)
	if err != nil {
		return nil, err
	}
	market, err := lending.NewMarket(r.state, lending.Params{
		Address:       addr,
		CollateralID:  req.CollateralID,
		AssetID:       req.AssetID,
		Ledger:        r.ledger.Operator(addr),
		Oracle:        req.Oracle,
		Authority:     r,
		InterestModel: model,
		Modules:       lending.DefaultModules(),
	}, append([]lending.Option{lending.WithLogger(r.logger)}, r.opts...)...)
	if err != nil {
		return nil, err
	}

	if !persisted {
		cfg := master.Config.Clone()
		if req.Config != nil {
			cfg = req.Config.Clone()
		}
		entry := MarketRecord{
			Address:      addr,
			Master:       master.Name,
			CollateralID: req.CollateralID,
			AssetID:      req.AssetID,
			Salt:         req.Salt,
			Reference:    req.Reference,
		}
		err = r.mutate(ctx, func(rec *record) error {
			if err := market.Init(r.asAuthority(ctx), cfg); err != nil {
				return err
			}
			rec.Markets = append(rec.Markets, entry)
			if req.Reference {
				rec.Reference = addr
			}
			r.state.Emit(events.RegistryMarketDeployed{
				Registry:     r.address,
				Market:       addr,
				Master:       master.Name,
				CollateralID: uint32(req.CollateralID),
				AssetID:      uint32(req.AssetID),
				Reference:    req.Reference,
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
		r.logger.Info("market deployed",
			slog.String("market", addr.String()),
			slog.String("master", master.Name),
			slog.Uint64("collateralId", uint64(req.CollateralID)),
			slog.Uint64("assetId", uint64(req.AssetID)))
	}
	r.markets[addr] = market
	if closer, ok := req.Oracle.(interface{ Close() }); ok {
		r.closers = append(r.closers, closer.Close)
	}
	return market, nil
}

func (r *Registry) interestModel(kind string, isReference bool) (lending.InterestModel, error) {
	switch kind {
	case KindUtilization:
		return lending.DefaultUtilizationModel(), nil
	case KindDebtRate:
		model := lending.DefaultDebtRateModel(r, isReference)
		if err := model.Validate(); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("%w: unknown interest model kind %q", ErrInvalidRequest, kind)
	}
}

// Market returns a live market.
func (r *Registry) Market(addr crypto.Address) (*lending.Market, error) {
	if err := r.requireOpen(); err != nil {
		return nil, err
	}
	market, ok := r.markets[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, addr)
	}
	return market, nil
}

// Markets lists every deployed market, live or not, in address order.
func (r *Registry) Markets() []MarketRecord {
	out := append([]MarketRecord(nil), r.rec.Markets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Compare(out[j].Address) < 0 })
	return out
}

// IsLive reports whether addr has been deployed or re-attached in this
// process.
func (r *Registry) IsLive(addr crypto.Address) bool {
	_, ok := r.markets[addr]
	return ok
}
