package vault

import "errors"

var (
	ErrVaultNotOpen                 = errors.New("vault: vault not open")
	ErrVaultOpen                    = errors.New("vault: vault already open")
	ErrNotAuthorized                = errors.New("vault: caller is not the owning bond")
	ErrZeroAmount                   = errors.New("vault: amount must be positive")
	ErrInsufficientFreeCollateral   = errors.New("vault: insufficient free collateral")
	ErrInsufficientLockedCollateral = errors.New("vault: insufficient locked collateral")
	ErrBelowCollateralizationRatio  = errors.New("vault: below collateralization ratio")
	ErrDepositCollateralNotAllowed  = errors.New("vault: deposit collateral not allowed")
	ErrDebtZero                     = errors.New("vault: collateralization ratio undefined for zero debt")
	ErrRepayAmountZero              = errors.New("vault: repay amount must be positive")
	ErrDebtUnderflow                = errors.New("vault: debt would become negative")
)
