package events

import (
	"math/big"

	"bondledger/core/types"
	"bondledger/crypto"
)

const (
	TypeSupplyUnderlying = "redemption.supply_underlying"
	TypeRedeemBonds      = "redemption.redeem_bonds"
)

type SupplyUnderlying struct {
	Bond             crypto.Address
	Supplier         crypto.Address
	UnderlyingAmount *big.Int
	BondAmount       *big.Int
}

func (SupplyUnderlying) EventType() string { return TypeSupplyUnderlying }

func (e SupplyUnderlying) Event() *types.Event {
	return &types.Event{Type: TypeSupplyUnderlying, Attributes: map[string]string{
		"bond":             formatAddress(e.Bond),
		"supplier":         formatAddress(e.Supplier),
		"underlyingAmount": formatAmount(e.UnderlyingAmount),
		"bondAmount":       formatAmount(e.BondAmount),
	}}
}

type RedeemBonds struct {
	Bond             crypto.Address
	Redeemer         crypto.Address
	BondAmount       *big.Int
	UnderlyingAmount *big.Int
}

func (RedeemBonds) EventType() string { return TypeRedeemBonds }

func (e RedeemBonds) Event() *types.Event {
	return &types.Event{Type: TypeRedeemBonds, Attributes: map[string]string{
		"bond":             formatAddress(e.Bond),
		"redeemer":         formatAddress(e.Redeemer),
		"bondAmount":       formatAmount(e.BondAmount),
		"underlyingAmount": formatAmount(e.UnderlyingAmount),
	}}
}
