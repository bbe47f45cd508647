package bond

import "errors"

var (
	ErrNotAdmin                       = errors.New("bond: caller is not the admin")
	ErrNotAuthorized                  = errors.New("bond: caller is not the redemption pool")
	ErrInvalidBond                    = errors.New("bond: invalid bond")
	ErrBondExists                     = errors.New("bond: bond already issued")
	ErrZeroAmount                     = errors.New("bond: amount must be positive")
	ErrMatured                        = errors.New("bond: bond matured")
	ErrNotMatured                     = errors.New("bond: bond not matured")
	ErrBorrowNotAllowed               = errors.New("bond: borrow not allowed")
	ErrDebtCeilingOverflow            = errors.New("bond: debt ceiling exceeded")
	ErrRepayBorrowNotAllowed          = errors.New("bond: repay borrow not allowed")
	ErrRepayBorrowInsufficientDebt    = errors.New("bond: repay amount exceeds debt")
	ErrRepayBorrowInsufficientBalance = errors.New("bond: insufficient balance to repay")
	ErrLiquidateBorrowNotAllowed      = errors.New("bond: liquidate borrow not allowed")
	ErrLiquidateBorrowSelf            = errors.New("bond: self liquidation not allowed")
	ErrAccountNotUnderwater           = errors.New("bond: account not underwater")
	ErrInsufficientLockedCollateral   = errors.New("bond: insufficient locked collateral to clutch")
)
