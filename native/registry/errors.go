package registry

import "errors"

var (
	ErrNotAdmin                        = errors.New("registry: caller is not the admin")
	ErrInvalidAdmin                    = errors.New("registry: admin must not be empty")
	ErrBondNotListed                   = errors.New("registry: bond not listed")
	ErrBondNotCompliant                = errors.New("registry: bond not compliant")
	ErrUnknownFlag                     = errors.New("registry: unknown flag")
	ErrCollateralizationRatioOverflow  = errors.New("registry: collateralization ratio above upper bound")
	ErrCollateralizationRatioUnderflow = errors.New("registry: collateralization ratio below lower bound")
	ErrDebtCeilingZero                 = errors.New("registry: debt ceiling must not be zero")
	ErrDebtCeilingUnderflow            = errors.New("registry: debt ceiling below outstanding supply")
	ErrLiquidationIncentiveOverflow    = errors.New("registry: liquidation incentive above upper bound")
	ErrLiquidationIncentiveUnderflow   = errors.New("registry: liquidation incentive below lower bound")
)
