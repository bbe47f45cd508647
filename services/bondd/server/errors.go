package server

import (
	"errors"
	"net/http"

	"bondledger/core"
	"bondledger/native/asset"
	"bondledger/native/bond"
	nativecommon "bondledger/native/common"
	"bondledger/native/oracle"
	"bondledger/native/precision"
	"bondledger/native/redemption"
	"bondledger/native/registry"
	"bondledger/native/vault"
)

var errBadRequest = errors.New("bad request")

var (
	badRequest = []error{
		errBadRequest,
		core.ErrInvalidEnvelope,
		core.ErrInvalidPayload,
		core.ErrUnknownOp,
		registry.ErrUnknownFlag,
	}
	unauthorized = []error{core.ErrInvalidSignature}
	conflict     = []error{core.ErrInvalidNonce}
	forbidden    = []error{
		registry.ErrNotAdmin,
		vault.ErrNotAuthorized,
		bond.ErrNotAdmin,
		bond.ErrNotAuthorized,
		oracle.ErrNotAuthorized,
		asset.ErrNotMintAuthority,
	}
	notFound    = []error{oracle.ErrFeedNotFound, registry.ErrBondNotCompliant}
	unavailable = []error{nativecommon.ErrModulePaused}

	// unprocessable lists domain rejections: the request was well formed but
	// the ledger refused it.
	unprocessable = []error{
		registry.ErrInvalidAdmin,
		registry.ErrBondNotListed,
		registry.ErrCollateralizationRatioOverflow,
		registry.ErrCollateralizationRatioUnderflow,
		registry.ErrDebtCeilingZero,
		registry.ErrDebtCeilingUnderflow,
		registry.ErrLiquidationIncentiveOverflow,
		registry.ErrLiquidationIncentiveUnderflow,
		vault.ErrVaultNotOpen,
		vault.ErrVaultOpen,
		vault.ErrZeroAmount,
		vault.ErrInsufficientFreeCollateral,
		vault.ErrInsufficientLockedCollateral,
		vault.ErrBelowCollateralizationRatio,
		vault.ErrDepositCollateralNotAllowed,
		vault.ErrDebtZero,
		vault.ErrRepayAmountZero,
		vault.ErrDebtUnderflow,
		bond.ErrInvalidBond,
		bond.ErrBondExists,
		bond.ErrZeroAmount,
		bond.ErrMatured,
		bond.ErrNotMatured,
		bond.ErrBorrowNotAllowed,
		bond.ErrDebtCeilingOverflow,
		bond.ErrRepayBorrowNotAllowed,
		bond.ErrRepayBorrowInsufficientDebt,
		bond.ErrRepayBorrowInsufficientBalance,
		bond.ErrLiquidateBorrowNotAllowed,
		bond.ErrLiquidateBorrowSelf,
		bond.ErrAccountNotUnderwater,
		bond.ErrInsufficientLockedCollateral,
		redemption.ErrZeroAmount,
		redemption.ErrSupplyUnderlyingNotAllowed,
		redemption.ErrRedeemNotAllowed,
		redemption.ErrInsufficientUnderlying,
		redemption.ErrRedeemAmountBelowPrecision,
		asset.ErrUnknownAsset,
		asset.ErrInvalidAmount,
		asset.ErrInvalidAddress,
		asset.ErrInsufficientBalance,
		asset.ErrInsufficientAllowance,
		oracle.ErrPriceZero,
		oracle.ErrInvalidSymbol,
		oracle.ErrInvalidDecimals,
		precision.ErrDecimalsOutOfRange,
		precision.ErrOverflow,
		precision.ErrNegative,
		precision.ErrDivisionByZero,
		precision.ErrInvalidDecimal,
	}
)

func matches(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// statusFor maps a ledger error to an HTTP status. Unknown errors are
// internal failures.
func statusFor(err error) int {
	switch {
	case matches(err, badRequest):
		return http.StatusBadRequest
	case matches(err, unauthorized):
		return http.StatusUnauthorized
	case matches(err, conflict):
		return http.StatusConflict
	case matches(err, forbidden):
		return http.StatusForbidden
	case matches(err, notFound):
		return http.StatusNotFound
	case matches(err, unavailable):
		return http.StatusServiceUnavailable
	case matches(err, unprocessable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
