package oracle

import "errors"

var (
	ErrPriceZero       = errors.New("oracle: price is zero or unavailable")
	ErrFeedNotFound    = errors.New("oracle: feed not found")
	ErrNotAuthorized   = errors.New("oracle: caller not authorized")
	ErrInvalidSymbol   = errors.New("oracle: symbol must not be empty")
	ErrInvalidDecimals = errors.New("oracle: feed decimals must be between 1 and 18")
)
