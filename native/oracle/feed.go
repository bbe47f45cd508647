package oracle

import (
	"fmt"
	"math/big"
	"strings"
)

// Quote is the raw reading of a price feed. Price carries Decimals fractional
// digits and is denominated in USD.
type Quote struct {
	Price     *big.Int
	Decimals  uint8
	Timestamp uint64
}

// PriceFeed returns the latest raw quote for a symbol. Implementations return
// ErrFeedNotFound when no feed is registered for the symbol.
type PriceFeed interface {
	LatestPrice(symbol string) (Quote, error)
}

// StaticFeed is an in-memory PriceFeed keyed by upper-case symbol.
type StaticFeed map[string]Quote

// Set stores price with the given number of fractional digits.
func (f StaticFeed) Set(symbol string, price *big.Int, decimals uint8) {
	f[normalizeSymbol(symbol)] = Quote{Price: new(big.Int).Set(price), Decimals: decimals}
}

// LatestPrice implements PriceFeed.
func (f StaticFeed) LatestPrice(symbol string) (Quote, error) {
	quote, ok := f[normalizeSymbol(symbol)]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrFeedNotFound, normalizeSymbol(symbol))
	}
	return quote, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
