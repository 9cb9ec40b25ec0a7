package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"lendcore/crypto"
	lendswapper "lendcore/native/swapper"
)

const (
	defaultListen         = "0.0.0.0:9444"
	defaultRequestTimeout = 10 * time.Second
	defaultMaxOracleAge   = 5 * time.Minute
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	Environment    string          `yaml:"environment" toml:"environment"`
	ListenAddress  string          `yaml:"listen" toml:"listen"`
	HealthAddress  string          `yaml:"health_listen" toml:"health_listen"`
	RequestTimeout time.Duration   `yaml:"request_timeout" toml:"request_timeout"`
	TLS            TLSConfig       `yaml:"tls" toml:"tls"`
	Auth           AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Storage        StorageConfig   `yaml:"storage" toml:"storage"`
	Events         EventsConfig    `yaml:"events" toml:"events"`
	Telemetry      TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Keeper         KeeperConfig    `yaml:"keeper" toml:"keeper"`
	Registry       RegistryConfig  `yaml:"registry" toml:"registry"`
	Assets         []AssetConfig   `yaml:"assets" toml:"assets"`
	Oracles        OracleConfig    `yaml:"oracles" toml:"oracles"`
	Masters        []MasterConfig  `yaml:"masters" toml:"masters"`
	Markets        []MarketConfig  `yaml:"markets" toml:"markets"`
	Swappers       []SwapperConfig `yaml:"swappers" toml:"swappers"`
}

// TLSConfig describes the TLS material shared by the HTTP API and the
// health endpoint.
type TLSConfig struct {
	CertPath      string `yaml:"cert" toml:"cert"`
	KeyPath       string `yaml:"key" toml:"key"`
	ClientCAPath  string `yaml:"client_ca" toml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure" toml:"allow_insecure"`
}

// AuthConfig lists the authenticators accepted by the API.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	Issuer    string        `yaml:"issuer" toml:"issuer"`
	Audience  string        `yaml:"audience" toml:"audience"`
	ClockSkew time.Duration `yaml:"clock_skew" toml:"clock_skew"`
	// APITokens maps static tokens to the caller address they act as.
	APITokens map[string]string `yaml:"api_tokens" toml:"api_tokens"`
	MTLS      MTLSAuthConfig    `yaml:"mtls" toml:"mtls"`
}

// MTLSAuthConfig enumerates the allowed client certificate identities.
type MTLSAuthConfig struct {
	AllowedCommonNames []string `yaml:"allowed_common_names" toml:"allowed_common_names"`
}

// RateLimitConfig throttles API clients. Zero disables throttling.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// StorageConfig selects the state backend.
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// EventsConfig selects the event history store. Driver "none" disables it.
type EventsConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// Enabled reports whether event history is persisted.
func (e EventsConfig) Enabled() bool { return e.Driver != "none" }

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint" toml:"endpoint"`
	Insecure bool              `yaml:"insecure" toml:"insecure"`
	Headers  map[string]string `yaml:"headers" toml:"headers"`
	Metrics  bool              `yaml:"metrics" toml:"metrics"`
	Traces   bool              `yaml:"traces" toml:"traces"`
}

// KeeperConfig schedules the maintenance jobs. A zero interval disables a
// job.
type KeeperConfig struct {
	RateInterval        time.Duration `yaml:"rate_interval" toml:"rate_interval"`
	AccrueInterval      time.Duration `yaml:"accrue_interval" toml:"accrue_interval"`
	FeeInterval         time.Duration `yaml:"fee_interval" toml:"fee_interval"`
	LiquidationInterval time.Duration `yaml:"liquidation_interval" toml:"liquidation_interval"`
	// Operator defaults to the registry owner.
	Operator string `yaml:"operator" toml:"operator"`
	Swapper  string `yaml:"swapper" toml:"swapper"`
}

// RegistryConfig identifies the market registry.
type RegistryConfig struct {
	Address  string `yaml:"address" toml:"address"`
	Owner    string `yaml:"owner" toml:"owner"`
	Treasury string `yaml:"treasury" toml:"treasury"`
}

// AssetConfig registers a ledger asset and its development genesis mints.
type AssetConfig struct {
	Symbol   string       `yaml:"symbol" toml:"symbol"`
	Strategy string       `yaml:"strategy" toml:"strategy"`
	Genesis  []MintConfig `yaml:"genesis" toml:"genesis"`
}

// MintConfig credits a wallet balance at first start.
type MintConfig struct {
	Account string `yaml:"account" toml:"account"`
	Amount  string `yaml:"amount" toml:"amount"`
}

// OracleConfig lists the price sources. Sources are consulted in Priority
// order and quotes older than MaxAge are discarded.
type OracleConfig struct {
	Priority []string      `yaml:"priority" toml:"priority"`
	MaxAge   time.Duration `yaml:"max_age" toml:"max_age"`
	Manual   []ManualQuote `yaml:"manual" toml:"manual"`
	HTTP     []HTTPFeed    `yaml:"http" toml:"http"`
}

// ManualQuote seeds the manual source with base per quote.
type ManualQuote struct {
	Base  string `yaml:"base" toml:"base"`
	Quote string `yaml:"quote" toml:"quote"`
	Rate  string `yaml:"rate" toml:"rate"`
}

// HTTPFeed polls a JSON price endpoint.
type HTTPFeed struct {
	Name     string        `yaml:"name" toml:"name"`
	Endpoint string        `yaml:"endpoint" toml:"endpoint"`
	APIKey   string        `yaml:"api_key" toml:"api_key"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
}

// MasterConfig registers a market template.
type MasterConfig struct {
	Name   string       `yaml:"name" toml:"name"`
	Kind   string       `yaml:"kind" toml:"kind"`
	Params MarketParams `yaml:"params" toml:"params"`
}

// MarketParams overrides market configuration defaults. Rates use the
// 1e5 precision.
type MarketParams struct {
	CollateralizationRate            *uint64 `yaml:"collateralization_rate" toml:"collateralization_rate"`
	LiquidationCollateralizationRate *uint64 `yaml:"liquidation_collateralization_rate" toml:"liquidation_collateralization_rate"`
	LiquidationMultiplier            *uint64 `yaml:"liquidation_multiplier" toml:"liquidation_multiplier"`
	MinLiquidatorReward              *uint64 `yaml:"min_liquidator_reward" toml:"min_liquidator_reward"`
	MaxLiquidatorReward              *uint64 `yaml:"max_liquidator_reward" toml:"max_liquidator_reward"`
	BorrowingFee                     *uint64 `yaml:"borrowing_fee" toml:"borrowing_fee"`
	ProtocolFee                      *uint64 `yaml:"protocol_fee" toml:"protocol_fee"`
	FlashLoanFee                     *uint64 `yaml:"flash_loan_fee" toml:"flash_loan_fee"`
	TotalBorrowCap                   string  `yaml:"total_borrow_cap" toml:"total_borrow_cap"`
	Conservator                      string  `yaml:"conservator" toml:"conservator"`
}

// MarketConfig deploys (or re-attaches) a market.
type MarketConfig struct {
	Master     string        `yaml:"master" toml:"master"`
	Collateral string        `yaml:"collateral" toml:"collateral"`
	Asset      string        `yaml:"asset" toml:"asset"`
	Salt       string        `yaml:"salt" toml:"salt"`
	Reference  bool          `yaml:"reference" toml:"reference"`
	Grace      time.Duration `yaml:"oracle_grace" toml:"oracle_grace"`
	Params     *MarketParams `yaml:"params" toml:"params"`
}

// SwapperConfig declares a liquidation venue.
type SwapperConfig struct {
	Kind       string `yaml:"kind" toml:"kind"`
	Address    string `yaml:"address" toml:"address"`
	Collateral string `yaml:"collateral" toml:"collateral"`
	Asset      string `yaml:"asset" toml:"asset"`
	// Haircut applies to inventory swappers, in 1e5 precision.
	Haircut uint32 `yaml:"haircut" toml:"haircut"`
	// MinBid and ActivationDelay apply to liquidation queues.
	MinBid          string        `yaml:"min_bid" toml:"min_bid"`
	ActivationDelay time.Duration `yaml:"activation_delay" toml:"activation_delay"`
}

// Load reads the configuration from disk, applies LENDINGD_* environment
// overrides and validates the result. Files ending in .toml are decoded as
// TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Config{ListenAddress: defaultListen}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.HealthAddress = strings.TrimSpace(cfg.HealthAddress)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Events.Driver = strings.ToLower(strings.TrimSpace(cfg.Events.Driver))
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "sqlite"
	}
	cfg.Events.DSN = strings.TrimSpace(cfg.Events.DSN)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)

	cfg.Registry.Address = strings.TrimSpace(cfg.Registry.Address)
	cfg.Registry.Owner = strings.TrimSpace(cfg.Registry.Owner)
	cfg.Registry.Treasury = strings.TrimSpace(cfg.Registry.Treasury)
	if cfg.Registry.Treasury == "" {
		cfg.Registry.Treasury = cfg.Registry.Owner
	}
	cfg.Keeper.Operator = strings.TrimSpace(cfg.Keeper.Operator)
	if cfg.Keeper.Operator == "" {
		cfg.Keeper.Operator = cfg.Registry.Owner
	}
	cfg.Keeper.Swapper = strings.TrimSpace(cfg.Keeper.Swapper)

	for i := range cfg.Assets {
		cfg.Assets[i].Symbol = strings.ToUpper(strings.TrimSpace(cfg.Assets[i].Symbol))
		cfg.Assets[i].Strategy = strings.TrimSpace(cfg.Assets[i].Strategy)
	}
	if cfg.Oracles.MaxAge <= 0 {
		cfg.Oracles.MaxAge = defaultMaxOracleAge
	}
	for i := range cfg.Oracles.Manual {
		q := &cfg.Oracles.Manual[i]
		q.Base = strings.ToUpper(strings.TrimSpace(q.Base))
		q.Quote = strings.ToUpper(strings.TrimSpace(q.Quote))
		q.Rate = strings.TrimSpace(q.Rate)
	}
	for i := range cfg.Oracles.HTTP {
		cfg.Oracles.HTTP[i].Name = strings.ToLower(strings.TrimSpace(cfg.Oracles.HTTP[i].Name))
		cfg.Oracles.HTTP[i].Endpoint = strings.TrimSpace(cfg.Oracles.HTTP[i].Endpoint)
	}
	for i := range cfg.Oracles.Priority {
		cfg.Oracles.Priority[i] = strings.ToLower(strings.TrimSpace(cfg.Oracles.Priority[i]))
	}
	if len(cfg.Oracles.Priority) == 0 {
		if len(cfg.Oracles.Manual) > 0 {
			cfg.Oracles.Priority = append(cfg.Oracles.Priority, "manual")
		}
		for _, feed := range cfg.Oracles.HTTP {
			cfg.Oracles.Priority = append(cfg.Oracles.Priority, feed.Name)
		}
	}
	for i := range cfg.Masters {
		cfg.Masters[i].Name = strings.TrimSpace(cfg.Masters[i].Name)
		cfg.Masters[i].Kind = strings.ToLower(strings.TrimSpace(cfg.Masters[i].Kind))
	}
	for i := range cfg.Markets {
		m := &cfg.Markets[i]
		m.Master = strings.TrimSpace(m.Master)
		m.Collateral = strings.ToUpper(strings.TrimSpace(m.Collateral))
		m.Asset = strings.ToUpper(strings.TrimSpace(m.Asset))
	}
	for i := range cfg.Swappers {
		s := &cfg.Swappers[i]
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		s.Address = strings.TrimSpace(s.Address)
		s.Collateral = strings.ToUpper(strings.TrimSpace(s.Collateral))
		s.Asset = strings.ToUpper(strings.TrimSpace(s.Asset))
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(cfg.TLS); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must be non-negative")
	}
	switch cfg.Storage.Backend {
	case "memory", "mem":
	case "leveldb", "level", "bolt", "bbolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	switch cfg.Events.Driver {
	case "none", "sqlite":
	case "postgres":
		if cfg.Events.DSN == "" {
			return fmt.Errorf("events: postgres dsn required")
		}
	default:
		return fmt.Errorf("events: unknown driver %q", cfg.Events.Driver)
	}
	if err := cfg.validateRegistry(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	assets, err := cfg.validateAssets()
	if err != nil {
		return fmt.Errorf("assets: %w", err)
	}
	if err := cfg.Oracles.validate(); err != nil {
		return fmt.Errorf("oracles: %w", err)
	}
	masters := make(map[string]struct{}, len(cfg.Masters))
	for _, master := range cfg.Masters {
		if master.Name == "" {
			return fmt.Errorf("masters: name required")
		}
		if _, dup := masters[master.Name]; dup {
			return fmt.Errorf("masters: duplicate %q", master.Name)
		}
		if master.Kind != "utilization" && master.Kind != "debt_rate" {
			return fmt.Errorf("masters: %s: unknown kind %q", master.Name, master.Kind)
		}
		if err := master.Params.validate(); err != nil {
			return fmt.Errorf("masters: %s: %w", master.Name, err)
		}
		masters[master.Name] = struct{}{}
	}
	references := 0
	for i, market := range cfg.Markets {
		if _, ok := masters[market.Master]; !ok {
			return fmt.Errorf("markets[%d]: unknown master %q", i, market.Master)
		}
		if err := pairKnown(assets, market.Collateral, market.Asset); err != nil {
			return fmt.Errorf("markets[%d]: %w", i, err)
		}
		if market.Params != nil {
			if err := market.Params.validate(); err != nil {
				return fmt.Errorf("markets[%d]: %w", i, err)
			}
		}
		if market.Reference {
			references++
		}
	}
	if references > 1 {
		return fmt.Errorf("markets: at most one reference market")
	}
	swappers := make(map[string]struct{}, len(cfg.Swappers))
	for i, swapper := range cfg.Swappers {
		addr, err := crypto.ParseAddress(swapper.Address)
		if err != nil {
			return fmt.Errorf("swappers[%d]: address: %w", i, err)
		}
		swappers[addr.String()] = struct{}{}
		switch swapper.Kind {
		case "inventory":
			if swapper.Haircut > lendswapper.MaxHaircut {
				return fmt.Errorf("swappers[%d]: haircut exceeds %d", i, lendswapper.MaxHaircut)
			}
		case "queue":
			if err := pairKnown(assets, swapper.Collateral, swapper.Asset); err != nil {
				return fmt.Errorf("swappers[%d]: %w", i, err)
			}
			if _, err := parseAmount(swapper.MinBid); err != nil {
				return fmt.Errorf("swappers[%d]: min_bid: %w", i, err)
			}
		default:
			return fmt.Errorf("swappers[%d]: unknown kind %q", i, swapper.Kind)
		}
	}
	if err := cfg.Keeper.validate(swappers); err != nil {
		return fmt.Errorf("keeper: %w", err)
	}
	return nil
}

func (cfg *Config) validateRegistry() error {
	if cfg.Registry.Owner == "" {
		return fmt.Errorf("owner required")
	}
	for name, raw := range map[string]string{"owner": cfg.Registry.Owner, "treasury": cfg.Registry.Treasury} {
		if _, err := crypto.ParseAddress(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.Registry.Address != "" {
		if _, err := crypto.ParseAddress(cfg.Registry.Address); err != nil {
			return fmt.Errorf("address: %w", err)
		}
	}
	return nil
}

func (cfg *Config) validateAssets() (map[string]struct{}, error) {
	assets := make(map[string]struct{}, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		if asset.Symbol == "" {
			return nil, fmt.Errorf("symbol required")
		}
		if _, dup := assets[asset.Symbol]; dup {
			return nil, fmt.Errorf("duplicate symbol %q", asset.Symbol)
		}
		for _, mint := range asset.Genesis {
			if _, err := crypto.ParseAddress(mint.Account); err != nil {
				return nil, fmt.Errorf("%s genesis account: %w", asset.Symbol, err)
			}
			if _, err := parseAmount(mint.Amount); err != nil {
				return nil, fmt.Errorf("%s genesis amount: %w", asset.Symbol, err)
			}
		}
		assets[asset.Symbol] = struct{}{}
	}
	return assets, nil
}

func pairKnown(assets map[string]struct{}, collateral, asset string) error {
	if collateral == asset {
		return fmt.Errorf("collateral and asset must differ")
	}
	for _, symbol := range []string{collateral, asset} {
		if _, ok := assets[symbol]; !ok {
			return fmt.Errorf("unknown asset %q", symbol)
		}
	}
	return nil
}

func (o OracleConfig) validate() error {
	for _, q := range o.Manual {
		if q.Base == "" || q.Quote == "" || q.Rate == "" {
			return fmt.Errorf("manual quotes require base, quote and rate")
		}
	}
	names := map[string]struct{}{}
	if len(o.Manual) > 0 {
		names["manual"] = struct{}{}
	}
	for _, feed := range o.HTTP {
		name := feed.Name
		if name == "" || feed.Endpoint == "" {
			return fmt.Errorf("http feeds require name and endpoint")
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("duplicate source %q", name)
		}
		names[name] = struct{}{}
	}
	for _, name := range o.Priority {
		if _, ok := names[name]; !ok {
			return fmt.Errorf("priority names unknown source %q", name)
		}
	}
	return nil
}

func (p MarketParams) validate() error {
	if p.TotalBorrowCap != "" {
		if _, err := parseAmount(p.TotalBorrowCap); err != nil {
			return fmt.Errorf("total_borrow_cap: %w", err)
		}
	}
	if p.Conservator != "" {
		if _, err := crypto.ParseAddress(p.Conservator); err != nil {
			return fmt.Errorf("conservator: %w", err)
		}
	}
	return nil
}

func (k KeeperConfig) validate(swappers map[string]struct{}) error {
	for _, d := range []time.Duration{k.RateInterval, k.AccrueInterval, k.FeeInterval, k.LiquidationInterval} {
		if d < 0 {
			return fmt.Errorf("intervals must be non-negative")
		}
	}
	if k.Operator != "" {
		if _, err := crypto.ParseAddress(k.Operator); err != nil {
			return fmt.Errorf("operator: %w", err)
		}
	}
	if k.Swapper != "" {
		addr, err := crypto.ParseAddress(k.Swapper)
		if err != nil {
			return fmt.Errorf("swapper: %w", err)
		}
		if _, ok := swappers[addr.String()]; !ok {
			return fmt.Errorf("swapper %s is not configured", k.Swapper)
		}
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	tokens := make(map[string]string, len(cfg.APITokens))
	for token, addr := range cfg.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens[trimmed] = strings.TrimSpace(addr)
		}
	}
	cfg.APITokens = tokens

	names := make([]string, 0, len(cfg.MTLS.AllowedCommonNames))
	for _, name := range cfg.MTLS.AllowedCommonNames {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	cfg.MTLS.AllowedCommonNames = names
}

func (cfg AuthConfig) validate(tls TLSConfig) error {
	hasJWT := cfg.JWTSecret != ""
	hasTokens := len(cfg.APITokens) > 0
	hasMTLS := len(cfg.MTLS.AllowedCommonNames) > 0
	if !hasJWT && !hasTokens && !hasMTLS {
		return fmt.Errorf("at least one of jwt_secret, api_tokens or mtls common names must be configured")
	}
	if hasJWT && len(cfg.JWTSecret) < 16 {
		return fmt.Errorf("jwt_secret must be at least 16 characters")
	}
	for _, addr := range cfg.APITokens {
		if _, err := crypto.ParseAddress(addr); err != nil {
			return fmt.Errorf("api token address: %w", err)
		}
	}
	if hasMTLS && strings.TrimSpace(tls.ClientCAPath) == "" {
		return fmt.Errorf("mtls.allowed_common_names requires tls.client_ca to be configured")
	}
	return nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(raw)
}

// ParseAmount parses a base-unit decimal amount. Empty values are zero.
func ParseAmount(raw string) (*uint256.Int, error) { return parseAmount(raw) }
