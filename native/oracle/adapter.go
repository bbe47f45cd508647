package oracle

import (
	"errors"
	"fmt"
	"math/big"

	"bondledger/native/precision"
)

// Adapter lifts raw feed quotes into the ledger's 18-digit representation.
type Adapter struct {
	feed PriceFeed
}

func NewAdapter(feed PriceFeed) *Adapter {
	return &Adapter{feed: feed}
}

// NormalizedPrice returns the USD price of symbol with 18 fractional digits.
// A missing feed and a zero reading both fail with ErrPriceZero.
func (a *Adapter) NormalizedPrice(symbol string) (*big.Int, error) {
	symbol = normalizeSymbol(symbol)
	if a == nil || a.feed == nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceZero, symbol)
	}
	quote, err := a.feed.LatestPrice(symbol)
	if errors.Is(err, ErrFeedNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPriceZero, symbol)
	}
	if err != nil {
		return nil, err
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrPriceZero, symbol)
	}
	normalized, err := precision.Normalize(quote.Price, quote.Decimals)
	if err != nil {
		return nil, fmt.Errorf("oracle: scale %s price: %w", symbol, err)
	}
	return normalized, nil
}
