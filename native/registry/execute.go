package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"lendcore/crypto"
	"lendcore/native/lending"
)

// AdminCall is one authorized market call routed through the registry.
// Params follow the same JSON conventions as lending.Call.
type AdminCall struct {
	Market crypto.Address  `json:"market"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type adminHandler func(ctx context.Context, m *lending.Market, params json.RawMessage) (map[string]string, error)

type feeParams struct {
	Fee uint64 `json:"fee"`
}

type capParams struct {
	Cap string `json:"cap"`
}

type ratesParams struct {
	Collateralization uint64 `json:"collateralization"`
	Liquidation       uint64 `json:"liquidation"`
}

type liquidationParams struct {
	Multiplier uint64 `json:"multiplier"`
	MinReward  uint64 `json:"minReward"`
	MaxReward  uint64 `json:"maxReward"`
}

type conservatorParams struct {
	Conservator crypto.Address `json:"conservator"`
}

type moduleParams struct {
	Kind string `json:"kind"`
}

func decodeParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: decode params: %v", lending.ErrInvalidParameter, err)
	}
	return nil
}

func moduleByKind(kind string) (lending.Module, error) {
	switch strings.TrimSpace(kind) {
	case lending.ModuleLendingBorrowing.String():
		return lending.LendingBorrowing{}, nil
	case lending.ModuleLiquidation.String():
		return lending.Liquidation{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown module %q", lending.ErrInvalidParameter, kind)
	}
}

var adminTable = map[string]adminHandler{
	"setBorrowCap": func(ctx context.Context, m *lending.Market, raw json.RawMessage) (map[string]string, error) {
		var p capParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		borrowCap, err := lending.ParseAmount(p.Cap)
		if err != nil {
			return nil, err
		}
		return nil, m.SetBorrowCap(ctx, borrowCap)
	},
	"setBorrowingFee": func(ctx context.Context, m *lending.Market, raw json.RawMessage) (map[string]string, error) {
		var p feeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, m.SetBorrowingFee(ctx, p.Fee)
	},
	"setProtocolFee": func(ctx context.Context, m *lending.Market, raw json.RawMessage) (map[string]string, error) {
		var p feeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, m.SetProtocolFee(ctx, p.Fee)
	},
	"setFlashLoanFee": func(ctx context.Context, m *lending.Market, raw json.RawMessage) (map[string]string, error) {
		var p feeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, m.SetFlashLoanFee(ctx, p.Fee)
	},
	"setCollateralizationRates": func(ctx context.Context, m *lending.Market, raw json.RawMessage) (map[string]string, error) {
		var p ratesParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, m.SetCollateralizationRates(ctx, p.Collateralization, p.Liquidation)
	},
	"setLiquidationParams": func(ctx context.Context, m *lending.Market, raw json.RawMessage) (map[string]string, error) {
		var p liquidationParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, m.SetLiquidationParams(ctx, p.Multiplier, p.MinReward, p.MaxReward)
	},
	"setConservator": func(ctx context.Context, m *lending.Market, raw json.RawMessage) (map[string]string, error) {
		var p conservatorParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, m.SetConservator(ctx, p.Conservator)
	},
	"setModule": func(ctx context.Context, m *lending.Market, raw json.RawMessage) (map[string]string, error) {
		var p moduleParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		module, err := moduleByKind(p.Kind)
		if err != nil {
			return nil, err
		}
		return nil, m.SetModule(ctx, module)
	},
	"clearModule": func(ctx context.Context, m *lending.Market, raw json.RawMessage) (map[string]string, error) {
		var p moduleParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		module, err := moduleByKind(p.Kind)
		if err != nil {
			return nil, err
		}
		return nil, m.ClearModule(ctx, module.Kind())
	},
	"withdrawFees": func(ctx context.Context, m *lending.Market, _ json.RawMessage) (map[string]string, error) {
		out, err := m.WithdrawFees(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"fraction": out.Fraction.Dec(), "share": out.Share.Dec()}, nil
	},
}

// AdminMethods lists the methods Execute understands.
func AdminMethods() []string {
	out := make([]string, 0, len(adminTable))
	for name := range adminTable {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs admin calls against deployed markets with the registry as
// caller. Owner only. With forceSuccess the first failure rolls back the
// whole batch; otherwise failures are reported per call.
func (r *Registry) Execute(ctx context.Context, calls []AdminCall, forceSuccess bool) ([]lending.CallResult, error) {
	if err := r.requireOwner(ctx); err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("%w: empty batch", lending.ErrInvalidParameter)
	}
	authCtx := r.asAuthority(ctx)
	var results []lending.CallResult
	err := r.state.Atomic(func() error {
		results = make([]lending.CallResult, 0, len(calls))
		for i, call := range calls {
			name := strings.TrimSpace(call.Method)
			out, err := r.dispatch(authCtx, call.Market, name, call.Params)
			if err != nil {
				if forceSuccess {
					return fmt.Errorf("call %d (%s): %w", i, name, err)
				}
				results = append(results, lending.CallResult{Method: name, Error: err.Error()})
				continue
			}
			encoded := ""
			if len(out) > 0 {
				raw, mErr := json.Marshal(out)
				if mErr != nil {
					return mErr
				}
				encoded = string(raw)
			}
			results = append(results, lending.CallResult{Method: name, Success: true, Result: encoded})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Registry) dispatch(ctx context.Context, addr crypto.Address, method string, params json.RawMessage) (map[string]string, error) {
	handler, ok := adminTable[method]
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %q", lending.ErrInvalidParameter, method)
	}
	market, err := r.Market(addr)
	if err != nil {
		return nil, err
	}
	return handler(ctx, market, params)
}

// WithdrawFees sweeps protocol fees of the given markets, or of every live
// market when none are named, to the treasury. Any account may trigger the
// sweep.
func (r *Registry) WithdrawFees(ctx context.Context, markets ...crypto.Address) (map[crypto.Address]*lending.FeeWithdrawal, error) {
	if err := r.requireOpen(); err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		for addr := range r.markets {
			markets = append(markets, addr)
		}
		sort.Slice(markets, func(i, j int) bool { return markets[i].Compare(markets[j]) < 0 })
	}
	authCtx := r.asAuthority(ctx)
	out := make(map[crypto.Address]*lending.FeeWithdrawal, len(markets))
	for _, addr := range markets {
		market, err := r.Market(addr)
		if err != nil {
			return out, err
		}
		res, err := market.WithdrawFees(authCtx)
		if err != nil {
			return out, fmt.Errorf("registry: withdraw fees of %s: %w", addr, err)
		}
		out[addr] = res
	}
	return out, nil
}
