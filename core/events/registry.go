package events

import (
	"math/big"

	"bondledger/core/types"
	"bondledger/crypto"
)

const (
	TypeListBond                      = "registry.list_bond"
	TypeSetBondCollateralizationRatio = "registry.set_bond_collateralization_ratio"
	TypeSetBondDebtCeiling            = "registry.set_bond_debt_ceiling"
	TypeSetBondLiquidationIncentive   = "registry.set_bond_liquidation_incentive"
	TypeTransferAdmin                 = "registry.transfer_admin"
	// TypeSetAllowedPrefix is followed by the flag name and "_allowed", e.g.
	// "registry.set_borrow_allowed".
	TypeSetAllowedPrefix = "registry.set_"
)

type ListBond struct {
	Admin crypto.Address
	Bond  crypto.Address
}

func (ListBond) EventType() string { return TypeListBond }

func (e ListBond) Event() *types.Event {
	return &types.Event{Type: TypeListBond, Attributes: map[string]string{
		"admin": formatAddress(e.Admin),
		"bond":  formatAddress(e.Bond),
	}}
}

// bondParameterChange is the shared shape of the old/new parameter events.
type bondParameterChange struct {
	Admin crypto.Address
	Bond  crypto.Address
	Old   *big.Int
	New   *big.Int
}

func (e bondParameterChange) event(kind string) *types.Event {
	return &types.Event{Type: kind, Attributes: map[string]string{
		"admin": formatAddress(e.Admin),
		"bond":  formatAddress(e.Bond),
		"old":   formatAmount(e.Old),
		"new":   formatAmount(e.New),
	}}
}

type SetBondCollateralizationRatio bondParameterChange

func (SetBondCollateralizationRatio) EventType() string { return TypeSetBondCollateralizationRatio }

func (e SetBondCollateralizationRatio) Event() *types.Event {
	return bondParameterChange(e).event(TypeSetBondCollateralizationRatio)
}

type SetBondDebtCeiling bondParameterChange

func (SetBondDebtCeiling) EventType() string { return TypeSetBondDebtCeiling }

func (e SetBondDebtCeiling) Event() *types.Event {
	return bondParameterChange(e).event(TypeSetBondDebtCeiling)
}

type SetBondLiquidationIncentive bondParameterChange

func (SetBondLiquidationIncentive) EventType() string { return TypeSetBondLiquidationIncentive }

func (e SetBondLiquidationIncentive) Event() *types.Event {
	return bondParameterChange(e).event(TypeSetBondLiquidationIncentive)
}

// SetAllowed records a feature flag change. Flag is the snake_case flag name
// without the "_allowed" suffix, e.g. "deposit_collateral".
type SetAllowed struct {
	Admin crypto.Address
	Bond  crypto.Address
	Flag  string
	Old   bool
	New   bool
}

func (e SetAllowed) EventType() string { return TypeSetAllowedPrefix + e.Flag + "_allowed" }

func (e SetAllowed) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"admin": formatAddress(e.Admin),
		"bond":  formatAddress(e.Bond),
		"old":   formatBool(e.Old),
		"new":   formatBool(e.New),
	}}
}

type TransferAdmin struct {
	Old crypto.Address
	New crypto.Address
}

func (TransferAdmin) EventType() string { return TypeTransferAdmin }

func (e TransferAdmin) Event() *types.Event {
	return &types.Event{Type: TypeTransferAdmin, Attributes: map[string]string{
		"old": formatAddress(e.Old),
		"new": formatAddress(e.New),
	}}
}
