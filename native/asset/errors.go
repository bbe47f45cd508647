package asset

import "errors"

var (
	ErrUnknownAsset          = errors.New("asset: not registered")
	ErrInvalidAmount         = errors.New("asset: amount must be positive")
	ErrInvalidAddress        = errors.New("asset: address must not be empty")
	ErrInsufficientBalance   = errors.New("asset: insufficient balance")
	ErrInsufficientAllowance = errors.New("asset: insufficient allowance")
	ErrNotMintAuthority      = errors.New("asset: caller is not the mint authority")
)
