package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"lendcore/core/events"
	"lendcore/core/state"
	"lendcore/crypto"
	"lendcore/integrations/eventstore"
	"lendcore/native/ledger"
	"lendcore/native/lending"
	"lendcore/native/liquidationqueue"
	"lendcore/native/oracle"
	"lendcore/native/registry"
	"lendcore/native/swapper"
	"lendcore/observability"
	"lendcore/services/lending/engine"
	"lendcore/services/lending/keeper"
	"lendcore/services/lending/server"
	"lendcore/services/lendingd/config"
	"lendcore/storage"
)

// node is the assembled lending stack.
type node struct {
	db       storage.Database
	store    *ledger.Store
	registry *registry.Registry
	engine   *engine.Local
	events   *eventstore.Store
	keeper   *keeper.Keeper
	api      *server.Server
	logger   *slog.Logger
}

type assetIDs map[string]lending.AssetID

// buildNode opens storage and wires the ledger, oracles, registry, markets,
// swappers, engine, event history, keeper and HTTP API described by cfg.
func buildNode(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *node, err error) {
	n := &node{logger: logger}
	defer func() {
		if err != nil {
			n.close()
		}
	}()

	if n.db, err = storage.Open(cfg.Storage.Backend, cfg.Storage.Path); err != nil {
		return nil, err
	}
	manager := state.NewManager(n.db)
	if err = manager.EnsureSchema(); err != nil {
		return nil, err
	}
	n.store = ledger.NewStore(manager)
	n.store.SetLogger(logger)

	hub := engine.NewHub()
	emitters := events.MultiEmitter{hub, observability.Events()}
	if cfg.Events.Enabled() {
		n.events, err = eventstore.Open(cfg.Events.Driver, cfg.Events.DSN, eventstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		checked, err := n.events.Verify(ctx)
		if err != nil {
			return nil, fmt.Errorf("verify event history: %w", err)
		}
		logger.Info("event history verified", "records", checked, "head", n.events.Head())
		emitters = append(emitters, n.events)
	}
	manager.SetEmitter(emitters)

	ids, err := registerAssets(n.store, cfg.Assets, logger)
	if err != nil {
		return nil, err
	}
	source, err := buildPriceSource(cfg.Oracles)
	if err != nil {
		return nil, err
	}

	owner := crypto.MustParseAddress(cfg.Registry.Owner)
	regAddr := crypto.DeriveAddress([]byte("lendcore/registry"))
	if cfg.Registry.Address != "" {
		regAddr = crypto.MustParseAddress(cfg.Registry.Address)
	}
	n.registry, err = registry.Open(manager, n.store, regAddr, owner,
		crypto.MustParseAddress(cfg.Registry.Treasury), registry.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	ownerCtx := lending.WithSender(ctx, owner)
	for _, m := range cfg.Masters {
		base, err := applyParams(lending.DefaultMarketConfig(), m.Params)
		if err != nil {
			return nil, fmt.Errorf("master %s: %w", m.Name, err)
		}
		err = n.registry.RegisterMaster(ownerCtx, registry.Master{Name: m.Name, Kind: m.Kind, Config: base})
		if err != nil && !errors.Is(err, registry.ErrMasterExists) {
			return nil, fmt.Errorf("master %s: %w", m.Name, err)
		}
	}

	type deployed struct {
		market *lending.Market
		rates  lending.Oracle
	}
	markets := make([]deployed, 0, len(cfg.Markets))
	for _, mc := range cfg.Markets {
		rates, err := oracle.NewPairOracle(source, oracle.PairConfig{
			Asset:      mc.Asset,
			Collateral: mc.Collateral,
			Grace:      mc.Grace,
		}, logger)
		if err != nil {
			return nil, err
		}
		req := registry.DeployRequest{
			Master:       mc.Master,
			CollateralID: ids[mc.Collateral],
			AssetID:      ids[mc.Asset],
			Oracle:       rates,
			Salt:         mc.Salt,
			Reference:    mc.Reference,
		}
		if mc.Params != nil {
			master, _ := findMaster(n.registry, mc.Master)
			override, err := applyParams(master.Config, *mc.Params)
			if err != nil {
				rates.Close()
				return nil, fmt.Errorf("market %s/%s: %w", mc.Collateral, mc.Asset, err)
			}
			req.Config = &override
		}
		market, err := n.registry.Deploy(ownerCtx, req)
		if err != nil {
			rates.Close()
			return nil, fmt.Errorf("market %s/%s: %w", mc.Collateral, mc.Asset, err)
		}
		markets = append(markets, deployed{market: market, rates: rates})
	}

	n.engine, err = engine.NewLocal(n.store, n.registry, engine.WithLogger(logger), engine.WithHub(hub))
	if err != nil {
		return nil, err
	}
	for _, sc := range cfg.Swappers {
		addr := crypto.MustParseAddress(sc.Address)
		var venue lending.Swapper
		switch sc.Kind {
		case "inventory":
			inv, err := swapper.NewInventory(addr, n.store.Operator(addr), sc.Haircut, manager, logger)
			if err != nil {
				return nil, err
			}
			for _, d := range markets {
				if err := inv.AddRoute(d.market.CollateralID(), d.market.AssetID(), d.rates); err != nil {
					return nil, err
				}
			}
			venue = inv
		case "queue":
			rates, err := oracle.NewPairOracle(source, oracle.PairConfig{Asset: sc.Asset, Collateral: sc.Collateral}, logger)
			if err != nil {
				return nil, err
			}
			minBid, _ := config.ParseAmount(sc.MinBid)
			q, err := liquidationqueue.New(addr, manager, n.store.Operator(addr), rates, liquidationqueue.Config{
				CollateralID:    ids[sc.Collateral],
				AssetID:         ids[sc.Asset],
				ActivationDelay: uint64(sc.ActivationDelay / time.Second),
				MinBidAmount:    minBid,
			}, liquidationqueue.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			venue = q
		}
		if err := n.registry.SetSwapper(ownerCtx, addr, true); err != nil {
			return nil, fmt.Errorf("swapper %s: %w", addr, err)
		}
		n.engine.AddSwapper(venue)
		logger.Info("swapper enabled", "kind", sc.Kind, "address", addr.String())
	}

	n.keeper, err = keeper.New(n.engine, keeper.Config{
		RateInterval:        cfg.Keeper.RateInterval,
		AccrueInterval:      cfg.Keeper.AccrueInterval,
		FeeInterval:         cfg.Keeper.FeeInterval,
		LiquidationInterval: cfg.Keeper.LiquidationInterval,
		Operator:            crypto.MustParseAddress(cfg.Keeper.Operator),
		Swapper:             cfg.Keeper.Swapper,
	}, logger)
	if err != nil {
		return nil, err
	}

	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret:       cfg.Auth.JWTSecret,
		Issuer:           cfg.Auth.Issuer,
		Audience:         cfg.Auth.Audience,
		ClockSkew:        cfg.Auth.ClockSkew,
		APITokens:        cfg.Auth.APITokens,
		AllowedClientCNs: cfg.Auth.MTLS.AllowedCommonNames,
	}, logger)
	if err != nil {
		return nil, err
	}
	apiCfg := server.Config{
		Engine:         n.engine,
		Auth:           auth,
		Limiter:        server.NewRateLimiter(server.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst}),
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		ServiceName:    "lendingd",
	}
	if n.events != nil {
		apiCfg.Events = n.events
	}
	n.api = server.New(apiCfg)
	logger.Info("lending stack ready", "markets", len(markets), "swappers", len(cfg.Swappers), "assets", len(ids))
	return n, nil
}

func (n *node) handler() http.Handler { return n.api.Handler() }

// close releases resources in reverse dependency order.
func (n *node) close() {
	if n.keeper != nil {
		if err := n.keeper.Stop(); err != nil {
			n.logger.Warn("stop keeper", "error", err)
		}
	}
	if n.engine != nil {
		_ = n.engine.Close()
	}
	if n.registry != nil {
		if err := n.registry.Close(); err != nil {
			n.logger.Warn("close registry", "error", err)
		}
	}
	if n.events != nil {
		if err := n.events.Close(); err != nil {
			n.logger.Warn("close event store", "error", err)
		}
	}
	if n.db != nil {
		n.db.Close()
	}
}

// registerAssets registers every configured asset. Genesis mints apply only
// when the ledger was empty before this call.
func registerAssets(store *ledger.Store, assets []config.AssetConfig, logger *slog.Logger) (assetIDs, error) {
	existing, err := store.Assets()
	if err != nil {
		return nil, err
	}
	fresh := len(existing) == 0
	ids := make(assetIDs, len(assets))
	for _, a := range assets {
		id, err := store.RegisterAsset(a.Symbol, a.Strategy)
		if err != nil {
			return nil, err
		}
		ids[a.Symbol] = id
		if !fresh {
			continue
		}
		for _, mint := range a.Genesis {
			amount, err := config.ParseAmount(mint.Amount)
			if err != nil {
				return nil, err
			}
			to := crypto.MustParseAddress(mint.Account)
			if err := store.Mint(a.Symbol, to, amount); err != nil {
				return nil, fmt.Errorf("genesis %s: %w", a.Symbol, err)
			}
			logger.Info("genesis mint", "asset", a.Symbol, "account", to.String(), "amount", amount.Dec())
		}
	}
	return ids, nil
}

func buildPriceSource(cfg config.OracleConfig) (oracle.PriceSource, error) {
	agg := oracle.NewAggregator(cfg.Priority, cfg.MaxAge)
	if len(cfg.Manual) > 0 {
		manual := oracle.NewManualSource()
		now := time.Now()
		for _, q := range cfg.Manual {
			if err := manual.SetDecimal(q.Base, q.Quote, q.Rate, now); err != nil {
				return nil, fmt.Errorf("manual quote %s/%s: %w", q.Base, q.Quote, err)
			}
		}
		agg.Register("manual", manual)
	}
	for _, feed := range cfg.HTTP {
		timeout := feed.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		src, err := oracle.NewHTTPSource(feed.Name, &http.Client{Timeout: timeout}, feed.Endpoint, feed.APIKey)
		if err != nil {
			return nil, err
		}
		agg.Register(feed.Name, src)
	}
	return agg, nil
}

func findMaster(reg *registry.Registry, name string) (registry.Master, bool) {
	for _, m := range reg.Masters() {
		if m.Name == name {
			return m, true
		}
	}
	return registry.Master{}, false
}

func applyParams(base lending.MarketConfig, p config.MarketParams) (lending.MarketConfig, error) {
	out := base.Clone()
	set := func(dst *uint64, v *uint64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&out.CollateralizationRate, p.CollateralizationRate)
	set(&out.LiquidationCollateralizationRate, p.LiquidationCollateralizationRate)
	set(&out.LiquidationMultiplier, p.LiquidationMultiplier)
	set(&out.MinLiquidatorReward, p.MinLiquidatorReward)
	set(&out.MaxLiquidatorReward, p.MaxLiquidatorReward)
	set(&out.BorrowingFee, p.BorrowingFee)
	set(&out.ProtocolFee, p.ProtocolFee)
	set(&out.FlashLoanFee, p.FlashLoanFee)
	if p.TotalBorrowCap != "" {
		limit, err := config.ParseAmount(p.TotalBorrowCap)
		if err != nil {
			return out, err
		}
		out.TotalBorrowCap = limit
	}
	if p.Conservator != "" {
		addr, err := crypto.ParseAddress(p.Conservator)
		if err != nil {
			return out, err
		}
		out.Conservator = addr
	}
	return out, nil
}
