package engine

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"lendcore/native/lending"
	"lendcore/native/oracle"
)

const secondsPerYear = 31_536_000

// ConfigView renders MarketConfig. Fractions are shown both raw and as
// percentages.
type ConfigView struct {
	CollateralizationRate            uint64 `json:"collateralizationRate"`
	LiquidationCollateralizationRate uint64 `json:"liquidationCollateralizationRate"`
	LiquidationMultiplier            uint64 `json:"liquidationMultiplier"`
	MinLiquidatorReward              uint64 `json:"minLiquidatorReward"`
	MaxLiquidatorReward              uint64 `json:"maxLiquidatorReward"`
	TotalBorrowCap                   string `json:"totalBorrowCap"`
	BorrowingFee                     uint64 `json:"borrowingFee"`
	ProtocolFee                      uint64 `json:"protocolFee"`
	FlashLoanFee                     uint64 `json:"flashLoanFee"`
	Paused                           bool   `json:"paused"`
	Conservator                      string `json:"conservator,omitempty"`
	MaxLTV                           string `json:"maxLtv"`
}

// MarketView is the API rendering of a market.
type MarketView struct {
	Address              string     `json:"address"`
	CollateralID         uint32     `json:"collateralId"`
	AssetID              uint32     `json:"assetId"`
	InterestModel        string     `json:"interestModel"`
	TotalAssetElastic    string     `json:"totalAssetElastic"`
	TotalAssetBase       string     `json:"totalAssetBase"`
	TotalBorrowElastic   string     `json:"totalBorrowElastic"`
	TotalBorrowBase      string     `json:"totalBorrowBase"`
	TotalCollateralShare string     `json:"totalCollateralShare"`
	ExchangeRate         string     `json:"exchangeRate"`
	Price                string     `json:"price,omitempty"`
	InterestPerSecond    string     `json:"interestPerSecond"`
	BorrowAPR            string     `json:"borrowApr"`
	SupplyAPR            string     `json:"supplyApr"`
	Utilization          string     `json:"utilization"`
	FeesEarnedFraction   string     `json:"feesEarnedFraction"`
	LastAccrued          uint64     `json:"lastAccrued"`
	Config               ConfigView `json:"config"`
}

// PositionView is the API rendering of one account in one market.
type PositionView struct {
	Market          string `json:"market"`
	Account         string `json:"account"`
	CollateralShare string `json:"collateralShare"`
	BorrowPart      string `json:"borrowPart"`
	BorrowAmount    string `json:"borrowAmount"`
	AssetFraction   string `json:"assetFraction"`
	Solvent         bool   `json:"solvent"`
	Liquidatable    bool   `json:"liquidatable"`
	ClosingFactor   string `json:"closingFactor"`
}

// BorrowView reports a borrow.
type BorrowView struct {
	Part  string `json:"part"`
	Share string `json:"share"`
}

// RepayView reports a repayment.
type RepayView struct {
	Amount string `json:"amount"`
	Part   string `json:"part"`
}

// AccountLiquidationView reports one liquidated account.
type AccountLiquidationView struct {
	Account         string `json:"account"`
	Skipped         bool   `json:"skipped"`
	Part            string `json:"part"`
	Amount          string `json:"amount"`
	Reward          string `json:"reward"`
	CollateralShare string `json:"collateralShare"`
}

// LiquidationView reports a liquidation call.
type LiquidationView struct {
	Liquidated      int                      `json:"liquidated"`
	Accounts        []AccountLiquidationView `json:"accounts"`
	BorrowAmount    string                   `json:"borrowAmount"`
	BorrowShare     string                   `json:"borrowShare"`
	CollateralShare string                   `json:"collateralShare"`
	Surplus         string                   `json:"surplus"`
}

// RateView reports an exchange rate refresh.
type RateView struct {
	Updated bool   `json:"updated"`
	Rate    string `json:"rate"`
	Price   string `json:"price,omitempty"`
}

// FeeView reports a protocol fee sweep.
type FeeView struct {
	Fraction string `json:"fraction"`
	Share    string `json:"share"`
}

// BalanceView is one ledger balance.
type BalanceView struct {
	AssetID uint32 `json:"assetId"`
	Token   string `json:"token"`
	Share   string `json:"share"`
	Amount  string `json:"amount"`
	Wallet  string `json:"wallet"`
}

// BidView renders a liquidation queue bid.
type BidView struct {
	ID       string `json:"id"`
	Bidder   string `json:"bidder"`
	Pool     uint32 `json:"pool"`
	Discount string `json:"discount"`
	Share    string `json:"share"`
	PlacedAt uint64 `json:"placedAt"`
	Active   bool   `json:"active"`
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func toDecimal(v *uint256.Int, exp int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), exp)
}

// feeFraction renders a FeePrecision fraction as a decimal fraction of one.
func feeFraction(v uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(v)).Div(decimal.NewFromInt(lending.FeePrecision))
}

// BorrowAPR annualises a per-second rate scaled by 1e18.
func BorrowAPR(perSecond *uint256.Int) decimal.Decimal {
	return toDecimal(perSecond, -18).Mul(decimal.NewFromInt(secondsPerYear))
}

// Utilization is borrowed / (borrowed + idle liquidity).
func Utilization(borrowed, idle *uint256.Int) decimal.Decimal {
	b := toDecimal(borrowed, 0)
	total := b.Add(toDecimal(idle, 0))
	if total.IsZero() {
		return decimal.Zero
	}
	return b.Div(total)
}

func newMarketView(m *lending.Market, st *lending.MarketState) MarketView {
	idle := m.Ledger().ToAmount(m.AssetID(), st.TotalAsset.Elastic, false)
	apr := BorrowAPR(st.Accrue.InterestPerSecond)
	util := Utilization(st.TotalBorrow.Elastic, idle)
	supply := apr.Mul(util).Mul(decimal.NewFromInt(1).Sub(feeFraction(st.Config.ProtocolFee)))
	view := MarketView{
		Address:              m.Address().String(),
		CollateralID:         uint32(m.CollateralID()),
		AssetID:              uint32(m.AssetID()),
		InterestModel:        m.InterestModel().Kind(),
		TotalAssetElastic:    dec(st.TotalAsset.Elastic),
		TotalAssetBase:       dec(st.TotalAsset.Base),
		TotalBorrowElastic:   dec(st.TotalBorrow.Elastic),
		TotalBorrowBase:      dec(st.TotalBorrow.Base),
		TotalCollateralShare: dec(st.TotalCollateralShare),
		ExchangeRate:         dec(st.ExchangeRate),
		InterestPerSecond:    dec(st.Accrue.InterestPerSecond),
		BorrowAPR:            apr.StringFixed(6),
		SupplyAPR:            supply.StringFixed(6),
		Utilization:          util.StringFixed(6),
		FeesEarnedFraction:   dec(st.Accrue.FeesEarnedFraction),
		LastAccrued:          st.Accrue.LastAccrued,
		Config:               newConfigView(st.Config),
	}
	if st.ExchangeRate != nil && !st.ExchangeRate.IsZero() {
		view.Price = oracle.FormatRate(st.ExchangeRate)
	}
	return view
}

func newConfigView(cfg lending.MarketConfig) ConfigView {
	view := ConfigView{
		CollateralizationRate:            cfg.CollateralizationRate,
		LiquidationCollateralizationRate: cfg.LiquidationCollateralizationRate,
		LiquidationMultiplier:            cfg.LiquidationMultiplier,
		MinLiquidatorReward:              cfg.MinLiquidatorReward,
		MaxLiquidatorReward:              cfg.MaxLiquidatorReward,
		TotalBorrowCap:                   dec(cfg.TotalBorrowCap),
		BorrowingFee:                     cfg.BorrowingFee,
		ProtocolFee:                      cfg.ProtocolFee,
		FlashLoanFee:                     cfg.FlashLoanFee,
		Paused:                           cfg.Paused,
		MaxLTV:                           feeFraction(cfg.CollateralizationRate).StringFixed(4),
	}
	if !cfg.Conservator.IsZero() {
		view.Conservator = cfg.Conservator.String()
	}
	return view
}

func newLiquidationView(res *lending.LiquidationResult) LiquidationView {
	view := LiquidationView{
		Liquidated:      res.Liquidated(),
		Accounts:        make([]AccountLiquidationView, 0, len(res.Accounts)),
		BorrowAmount:    dec(res.BorrowAmount),
		BorrowShare:     dec(res.BorrowShare),
		CollateralShare: dec(res.CollateralShare),
		Surplus:         dec(res.Surplus),
	}
	for _, acc := range res.Accounts {
		view.Accounts = append(view.Accounts, AccountLiquidationView{
			Account:         acc.Account.String(),
			Skipped:         acc.Skipped,
			Part:            dec(acc.Part),
			Amount:          dec(acc.Amount),
			Reward:          dec(acc.Reward),
			CollateralShare: dec(acc.CollateralShare),
		})
	}
	return view
}
