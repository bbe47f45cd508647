package events

import (
	"math/big"

	"bondledger/core/types"
	"bondledger/crypto"
)

const (
	TypeOpenVault          = "vault.open"
	TypeDepositCollateral  = "vault.deposit_collateral"
	TypeWithdrawCollateral = "vault.withdraw_collateral"
	TypeLockCollateral     = "vault.lock_collateral"
	TypeFreeCollateral     = "vault.free_collateral"
	TypeClutchCollateral   = "vault.clutch_collateral"
	TypeSetVaultDebt       = "vault.set_debt"
)

type OpenVault struct {
	Bond    crypto.Address
	Account crypto.Address
}

func (OpenVault) EventType() string { return TypeOpenVault }

func (e OpenVault) Event() *types.Event {
	return &types.Event{Type: TypeOpenVault, Attributes: map[string]string{
		"bond":    formatAddress(e.Bond),
		"account": formatAddress(e.Account),
	}}
}

// CollateralMovement is the shape shared by deposit, withdraw, lock and free.
type CollateralMovement struct {
	Bond    crypto.Address
	Account crypto.Address
	Amount  *big.Int
}

func (e CollateralMovement) event(kind string) *types.Event {
	return &types.Event{Type: kind, Attributes: map[string]string{
		"bond":    formatAddress(e.Bond),
		"account": formatAddress(e.Account),
		"amount":  formatAmount(e.Amount),
	}}
}

type DepositCollateral CollateralMovement

func (DepositCollateral) EventType() string { return TypeDepositCollateral }

func (e DepositCollateral) Event() *types.Event {
	return CollateralMovement(e).event(TypeDepositCollateral)
}

type WithdrawCollateral CollateralMovement

func (WithdrawCollateral) EventType() string { return TypeWithdrawCollateral }

func (e WithdrawCollateral) Event() *types.Event {
	return CollateralMovement(e).event(TypeWithdrawCollateral)
}

type LockCollateral CollateralMovement

func (LockCollateral) EventType() string { return TypeLockCollateral }

func (e LockCollateral) Event() *types.Event {
	return CollateralMovement(e).event(TypeLockCollateral)
}

type FreeCollateral CollateralMovement

func (FreeCollateral) EventType() string { return TypeFreeCollateral }

func (e FreeCollateral) Event() *types.Event {
	return CollateralMovement(e).event(TypeFreeCollateral)
}

type ClutchCollateral struct {
	Bond       crypto.Address
	Liquidator crypto.Address
	Borrower   crypto.Address
	Amount     *big.Int
}

func (ClutchCollateral) EventType() string { return TypeClutchCollateral }

func (e ClutchCollateral) Event() *types.Event {
	return &types.Event{Type: TypeClutchCollateral, Attributes: map[string]string{
		"bond":       formatAddress(e.Bond),
		"liquidator": formatAddress(e.Liquidator),
		"borrower":   formatAddress(e.Borrower),
		"amount":     formatAmount(e.Amount),
	}}
}

type SetVaultDebt struct {
	Bond    crypto.Address
	Account crypto.Address
	Old     *big.Int
	New     *big.Int
}

func (SetVaultDebt) EventType() string { return TypeSetVaultDebt }

func (e SetVaultDebt) Event() *types.Event {
	return &types.Event{Type: TypeSetVaultDebt, Attributes: map[string]string{
		"bond":    formatAddress(e.Bond),
		"account": formatAddress(e.Account),
		"old":     formatAmount(e.Old),
		"new":     formatAmount(e.New),
	}}
}
