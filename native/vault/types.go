package vault

import (
	"math/big"

	"bondledger/crypto"
)

// CustodyAddress holds every deposited collateral balance.
var CustodyAddress = crypto.ContractAddress("vault-ledger")

// Vault is the position of one account in one bond. Collateral amounts are in
// the collateral asset's native precision, debt in bond token units.
type Vault struct {
	Debt             *big.Int
	FreeCollateral   *big.Int
	LockedCollateral *big.Int
	IsOpen           bool
}

func (v *Vault) ensureDefaults() {
	if v.Debt == nil {
		v.Debt = big.NewInt(0)
	}
	if v.FreeCollateral == nil {
		v.FreeCollateral = big.NewInt(0)
	}
	if v.LockedCollateral == nil {
		v.LockedCollateral = big.NewInt(0)
	}
}

// Clone returns a deep copy of the vault.
func (v Vault) Clone() Vault {
	clone := v
	clone.ensureDefaults()
	clone.Debt = new(big.Int).Set(clone.Debt)
	clone.FreeCollateral = new(big.Int).Set(clone.FreeCollateral)
	clone.LockedCollateral = new(big.Int).Set(clone.LockedCollateral)
	return clone
}

// TotalCollateral is the sum of free and locked collateral.
func (v Vault) TotalCollateral() *big.Int {
	v.ensureDefaults()
	return new(big.Int).Add(v.FreeCollateral, v.LockedCollateral)
}
