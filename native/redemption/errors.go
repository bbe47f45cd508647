package redemption

import "errors"

var (
	ErrZeroAmount                 = errors.New("redemption: amount must be positive")
	ErrSupplyUnderlyingNotAllowed = errors.New("redemption: supply underlying not allowed")
	ErrRedeemNotAllowed           = errors.New("redemption: redeem not allowed")
	ErrInsufficientUnderlying     = errors.New("redemption: pool lacks underlying")
	ErrRedeemAmountBelowPrecision = errors.New("redemption: amount below underlying precision")
)
