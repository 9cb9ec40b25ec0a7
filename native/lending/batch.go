package lending

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	"lendcore/crypto"
)

// Call is one entry of an Execute batch. Params is a JSON object whose shape
// depends on Method; amounts are base-10 strings and addresses use bech32 or
// 0x hex.
type Call struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// CallResult reports the outcome of one batched call. Result is a JSON
// document describing the call's return values.
type CallResult struct {
	Method  string `json:"method"`
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

type callHandler func(ctx context.Context, m *Market, params json.RawMessage) (map[string]string, error)

type transferParams struct {
	From  crypto.Address `json:"from"`
	To    crypto.Address `json:"to"`
	Share string         `json:"share"`
}

type borrowParams struct {
	From   crypto.Address `json:"from"`
	To     crypto.Address `json:"to"`
	Amount string         `json:"amount"`
}

type repayParams struct {
	From        crypto.Address `json:"from"`
	To          crypto.Address `json:"to"`
	PartPayment bool           `json:"partPayment"`
	Value       string         `json:"value"`
}

type removeAssetParams struct {
	From     crypto.Address `json:"from"`
	To       crypto.Address `json:"to"`
	Fraction string         `json:"fraction"`
}

type liquidateParams struct {
	Accounts       []crypto.Address `json:"accounts"`
	MaxBorrowParts []string         `json:"maxBorrowParts"`
}

type operatorParams struct {
	Operator crypto.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

type pauseParams struct {
	Paused bool `json:"paused"`
}

var callTable = map[string]callHandler{
	"addCollateral": func(ctx context.Context, m *Market, raw json.RawMessage) (map[string]string, error) {
		var p transferParams
		share, err := decodeCall(raw, &p, func() string { return p.Share })
		if err != nil {
			return nil, err
		}
		return nil, m.AddCollateral(ctx, p.From, p.To, share)
	},
	"removeCollateral": func(ctx context.Context, m *Market, raw json.RawMessage) (map[string]string, error) {
		var p transferParams
		share, err := decodeCall(raw, &p, func() string { return p.Share })
		if err != nil {
			return nil, err
		}
		return nil, m.RemoveCollateral(ctx, p.From, p.To, share)
	},
	"borrow": func(ctx context.Context, m *Market, raw json.RawMessage) (map[string]string, error) {
		var p borrowParams
		amount, err := decodeCall(raw, &p, func() string { return p.Amount })
		if err != nil {
			return nil, err
		}
		part, share, err := m.Borrow(ctx, p.From, p.To, amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"part": part.Dec(), "share": share.Dec()}, nil
	},
	"repay": func(ctx context.Context, m *Market, raw json.RawMessage) (map[string]string, error) {
		var p repayParams
		value, err := decodeCall(raw, &p, func() string { return p.Value })
		if err != nil {
			return nil, err
		}
		amount, part, err := m.Repay(ctx, p.From, p.To, p.PartPayment, value)
		if err != nil {
			return nil, err
		}
		return map[string]string{"amount": amount.Dec(), "part": part.Dec()}, nil
	},
	"addAsset": func(ctx context.Context, m *Market, raw json.RawMessage) (map[string]string, error) {
		var p transferParams
		share, err := decodeCall(raw, &p, func() string { return p.Share })
		if err != nil {
			return nil, err
		}
		fraction, err := m.AddAsset(ctx, p.From, p.To, share)
		if err != nil {
			return nil, err
		}
		return map[string]string{"fraction": fraction.Dec()}, nil
	},
	"removeAsset": func(ctx context.Context, m *Market, raw json.RawMessage) (map[string]string, error) {
		var p removeAssetParams
		fraction, err := decodeCall(raw, &p, func() string { return p.Fraction })
		if err != nil {
			return nil, err
		}
		share, err := m.RemoveAsset(ctx, p.From, p.To, fraction)
		if err != nil {
			return nil, err
		}
		return map[string]string{"share": share.Dec()}, nil
	},
	"accrue": func(ctx context.Context, m *Market, _ json.RawMessage) (map[string]string, error) {
		return nil, m.Accrue(ctx)
	},
	"updateExchangeRate": func(ctx context.Context, m *Market, _ json.RawMessage) (map[string]string, error) {
		updated, rate, err := m.UpdateExchangeRate(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"updated": fmt.Sprint(updated), "rate": rate.Dec()}, nil
	},
	"liquidate": func(ctx context.Context, m *Market, raw json.RawMessage) (map[string]string, error) {
		var p liquidateParams
		if _, err := decodeCall(raw, &p, nil); err != nil {
			return nil, err
		}
		parts := make([]*uint256.Int, 0, len(p.MaxBorrowParts))
		for _, rawPart := range p.MaxBorrowParts {
			part, err := ParseAmount(rawPart)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		res, err := m.Liquidate(ctx, p.Accounts, parts, nil, nil)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"liquidated":      fmt.Sprint(res.Liquidated()),
			"borrowAmount":    res.BorrowAmount.Dec(),
			"collateralShare": res.CollateralShare.Dec(),
		}, nil
	},
	"setOperator": func(ctx context.Context, m *Market, raw json.RawMessage) (map[string]string, error) {
		var p operatorParams
		if _, err := decodeCall(raw, &p, nil); err != nil {
			return nil, err
		}
		return nil, m.SetOperator(ctx, p.Operator, p.Approved)
	},
	"updatePause": func(ctx context.Context, m *Market, raw json.RawMessage) (map[string]string, error) {
		var p pauseParams
		if _, err := decodeCall(raw, &p, nil); err != nil {
			return nil, err
		}
		return nil, m.UpdatePause(ctx, p.Paused)
	},
}

// decodeCall unmarshals raw into dst and, when amount is set, parses the
// amount field it selects.
func decodeCall(raw json.RawMessage, dst interface{}, amount func() string) (*uint256.Int, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("%w: decode params: %v", ErrInvalidParameter, err)
	}
	if amount == nil {
		return nil, nil
	}
	return ParseAmount(amount())
}

// BatchMethods lists the methods Execute understands.
func BatchMethods() []string {
	out := make([]string, 0, len(callTable))
	for name := range callTable {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs calls in order as one unit. With revertOnFail the first error
// aborts the batch and rolls back every earlier call. Without it each call
// stands alone: failures are reported per call and successful calls stay
// applied.
func (m *Market) Execute(ctx context.Context, calls []Call, revertOnFail bool) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidParameter)
	}
	var results []CallResult
	err := m.run("execute", func() error {
		results = make([]CallResult, 0, len(calls))
		for i, call := range calls {
			name := strings.TrimSpace(call.Method)
			handler, ok := callTable[name]
			var (
				out map[string]string
				err error
			)
			if !ok {
				err = fmt.Errorf("%w: unknown method %q", ErrInvalidParameter, call.Method)
			} else {
				out, err = handler(ctx, m, call.Params)
			}
			if err != nil {
				if revertOnFail {
					return fmt.Errorf("call %d (%s): %w", i, name, err)
				}
				results = append(results, CallResult{Method: name, Error: err.Error()})
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
			results = append(results, CallResult{Method: name, Success: true, Result: encoded})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
