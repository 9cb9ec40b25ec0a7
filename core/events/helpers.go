package events

import (
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"lendcore/crypto"
)

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func addressString(a crypto.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

func uintString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}
