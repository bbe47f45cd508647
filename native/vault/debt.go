package vault

import (
	"math/big"

	"bondledger/core/events"
	"bondledger/crypto"
)

// IncreaseVaultDebt adds amount to the account's debt. Only the bond itself
// may call it.
func (l *Ledger) IncreaseVaultDebt(caller, bond, account crypto.Address, amount *big.Int) error {
	if err := onlyBond(caller, bond); err != nil {
		return err
	}
	if !positive(amount) {
		return ErrZeroAmount
	}
	v, err := l.open(bond, account)
	if err != nil {
		return err
	}
	return l.setDebt(bond, account, v, new(big.Int).Add(v.Debt, amount))
}

// DecreaseVaultDebt subtracts amount from the account's debt. Only the bond
// itself may call it.
func (l *Ledger) DecreaseVaultDebt(caller, bond, account crypto.Address, amount *big.Int) error {
	if err := onlyBond(caller, bond); err != nil {
		return err
	}
	if !positive(amount) {
		return ErrZeroAmount
	}
	v, err := l.open(bond, account)
	if err != nil {
		return err
	}
	if v.Debt.Cmp(amount) < 0 {
		return ErrDebtUnderflow
	}
	return l.setDebt(bond, account, v, new(big.Int).Sub(v.Debt, amount))
}

// SetVaultDebt overwrites the account's debt. Only the bond itself may call
// it.
func (l *Ledger) SetVaultDebt(caller, bond, account crypto.Address, debt *big.Int) error {
	if err := onlyBond(caller, bond); err != nil {
		return err
	}
	if debt == nil || debt.Sign() < 0 {
		return ErrDebtUnderflow
	}
	v, err := l.open(bond, account)
	if err != nil {
		return err
	}
	return l.setDebt(bond, account, v, new(big.Int).Set(debt))
}

func (l *Ledger) setDebt(bond, account crypto.Address, v Vault, debt *big.Int) error {
	old := v.Debt
	v.Debt = debt
	if err := l.store(bond, account, v); err != nil {
		return err
	}
	l.emitter.Emit(events.SetVaultDebt{Bond: bond, Account: account, Old: old, New: debt})
	return nil
}

// ClutchCollateral moves amount of the borrower's locked collateral out of
// custody into the liquidator's wallet. Only the bond itself may call it.
func (l *Ledger) ClutchCollateral(caller, bond, liquidator, borrower crypto.Address, amount *big.Int) error {
	if err := onlyBond(caller, bond); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	v, err := l.load(bond, borrower)
	if err != nil {
		return err
	}
	if v.LockedCollateral.Cmp(amount) < 0 {
		return ErrInsufficientLockedCollateral
	}
	spec, err := l.registry.Spec(bond)
	if err != nil {
		return err
	}
	v.LockedCollateral = new(big.Int).Sub(v.LockedCollateral, amount)
	if err := l.store(bond, borrower, v); err != nil {
		return err
	}
	if amount.Sign() > 0 {
		if err := l.assets.Transfer(CustodyAddress, liquidator, spec.CollateralSymbol, amount); err != nil {
			return err
		}
	}
	l.emitter.Emit(events.ClutchCollateral{Bond: bond, Liquidator: liquidator, Borrower: borrower, Amount: amount})
	return nil
}
