package events

import (
	"math/big"
	"strconv"
	"strings"

	"bondledger/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(a crypto.Address) string {
	return a.String()
}

func formatBool(v bool) string {
	return strconv.FormatBool(v)
}
