package vault

import (
	"math/big"

	"bondledger/crypto"
	"bondledger/native/precision"
)

func (l *Ledger) GetVault(bond, account crypto.Address) (Vault, error) {
	v, err := l.load(bond, account)
	if err != nil {
		return Vault{}, err
	}
	return v.Clone(), nil
}

func (l *Ledger) GetVaultDebt(bond, account crypto.Address) (*big.Int, error) {
	v, err := l.load(bond, account)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(v.Debt), nil
}

func (l *Ledger) GetVaultFreeCollateral(bond, account crypto.Address) (*big.Int, error) {
	v, err := l.load(bond, account)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(v.FreeCollateral), nil
}

func (l *Ledger) GetVaultLockedCollateral(bond, account crypto.Address) (*big.Int, error) {
	v, err := l.load(bond, account)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(v.LockedCollateral), nil
}

// VaultAccounts returns the accounts holding an open vault for bond, in the
// order the vaults were opened.
func (l *Ledger) VaultAccounts(bond crypto.Address) ([]crypto.Address, error) {
	var raw [][]byte
	if err := l.st.KVGetList(vaultIndexKey(bond), &raw); err != nil {
		return nil, err
	}
	accounts := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		addr, err := crypto.AddressFromBytes(crypto.AccountPrefix, b)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, addr)
	}
	return accounts, nil
}

func (l *Ledger) IsVaultOpen(bond, account crypto.Address) (bool, error) {
	v, err := l.load(bond, account)
	if err != nil {
		return false, err
	}
	return v.IsOpen, nil
}

// hypotheticalRatio values locked collateral against debt:
//
//	ratio = (locked * scalar * collateralPrice) / (debt * underlyingPrice)
//
// evaluated as a single division of the untruncated products, so dust debt
// still yields a finite ratio.
func (l *Ledger) hypotheticalRatio(bond crypto.Address, locked, debt *big.Int) (*big.Int, error) {
	if debt == nil || debt.Sign() == 0 {
		return nil, ErrDebtZero
	}
	if locked == nil || locked.Sign() == 0 {
		return big.NewInt(0), nil
	}
	spec, err := l.registry.Spec(bond)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := l.prices.NormalizedPrice(spec.CollateralSymbol)
	if err != nil {
		return nil, err
	}
	underlyingPrice, err := l.prices.NormalizedPrice(spec.UnderlyingSymbol)
	if err != nil {
		return nil, err
	}
	decimals, err := l.assets.Decimals(spec.CollateralSymbol)
	if err != nil {
		return nil, err
	}
	normalizedLocked, err := precision.Normalize(locked, decimals)
	if err != nil {
		return nil, err
	}
	return precision.Ratio(normalizedLocked, collateralPrice, debt, underlyingPrice)
}

// GetHypotheticalCollateralizationRatio values an arbitrary locked collateral
// and debt pair for the account's open vault. Zero debt is an error and zero
// collateral yields zero.
func (l *Ledger) GetHypotheticalCollateralizationRatio(bond, account crypto.Address, locked, debt *big.Int) (*big.Int, error) {
	if _, err := l.open(bond, account); err != nil {
		return nil, err
	}
	return l.hypotheticalRatio(bond, locked, debt)
}

// GetCurrentCollateralizationRatio values the vault's live position. It is
// zero while the vault carries no debt.
func (l *Ledger) GetCurrentCollateralizationRatio(bond, account crypto.Address) (*big.Int, error) {
	v, err := l.load(bond, account)
	if err != nil {
		return nil, err
	}
	if v.Debt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return l.hypotheticalRatio(bond, v.LockedCollateral, v.Debt)
}

// IsAccountUnderwater reports whether an open vault with debt sits below the
// bond's required collateralization ratio.
func (l *Ledger) IsAccountUnderwater(bond, account crypto.Address) (bool, error) {
	v, err := l.load(bond, account)
	if err != nil {
		return false, err
	}
	if !v.IsOpen || v.Debt.Sign() == 0 {
		return false, nil
	}
	current, err := l.hypotheticalRatio(bond, v.LockedCollateral, v.Debt)
	if err != nil {
		return false, err
	}
	required, err := l.registry.CollateralizationRatio(bond)
	if err != nil {
		return false, err
	}
	return current.Cmp(required) < 0, nil
}

// GetClutchableCollateral returns the collateral, in the collateral asset's
// native precision, a liquidator receives for repaying repayAmount of debt:
//
//	repayAmount * incentive * underlyingPrice / collateralPrice
//
// The result is truncated towards zero.
func (l *Ledger) GetClutchableCollateral(bond crypto.Address, repayAmount *big.Int) (*big.Int, error) {
	if !positive(repayAmount) {
		return nil, ErrRepayAmountZero
	}
	incentive, err := l.registry.LiquidationIncentive(bond)
	if err != nil {
		return nil, err
	}
	if incentive.Sign() == 0 {
		return big.NewInt(0), nil
	}
	spec, err := l.registry.Spec(bond)
	if err != nil {
		return nil, err
	}
	underlyingPrice, err := l.prices.NormalizedPrice(spec.UnderlyingSymbol)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := l.prices.NormalizedPrice(spec.CollateralSymbol)
	if err != nil {
		return nil, err
	}
	decimals, err := l.assets.Decimals(spec.CollateralSymbol)
	if err != nil {
		return nil, err
	}
	incentivised, err := precision.Mul(repayAmount, incentive)
	if err != nil {
		return nil, err
	}
	value, err := precision.Mul(incentivised, underlyingPrice)
	if err != nil {
		return nil, err
	}
	clutchable, err := precision.Div(value, collateralPrice)
	if err != nil {
		return nil, err
	}
	return precision.Denormalize(clutchable, decimals)
}
