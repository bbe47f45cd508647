package events

import (
	"math/big"
	"strconv"

	"bondledger/core/types"
)

const (
	TypeSetFeed      = "oracle.set_feed"
	TypeDeleteFeed   = "oracle.delete_feed"
	TypePriceUpdated = "oracle.price_updated"
)

type SetFeed struct {
	Symbol   string
	Decimals uint8
}

func (SetFeed) EventType() string { return TypeSetFeed }

func (e SetFeed) Event() *types.Event {
	return &types.Event{Type: TypeSetFeed, Attributes: map[string]string{
		"symbol":   normalizeAsset(e.Symbol),
		"decimals": strconv.FormatUint(uint64(e.Decimals), 10),
	}}
}

type DeleteFeed struct {
	Symbol string
}

func (DeleteFeed) EventType() string { return TypeDeleteFeed }

func (e DeleteFeed) Event() *types.Event {
	return &types.Event{Type: TypeDeleteFeed, Attributes: map[string]string{
		"symbol": normalizeAsset(e.Symbol),
	}}
}

type PriceUpdated struct {
	Symbol    string
	Price     *big.Int
	Timestamp uint64
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

func (e PriceUpdated) Event() *types.Event {
	return &types.Event{Type: TypePriceUpdated, Attributes: map[string]string{
		"symbol":    normalizeAsset(e.Symbol),
		"price":     formatAmount(e.Price),
		"timestamp": strconv.FormatUint(e.Timestamp, 10),
	}}
}
