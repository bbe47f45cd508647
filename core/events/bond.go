package events

import (
	"math/big"
	"strconv"

	"bondledger/core/types"
	"bondledger/crypto"
)

const (
	TypeIssueBond       = "bond.issue"
	TypeBorrow          = "bond.borrow"
	TypeRepayBorrow     = "bond.repay_borrow"
	TypeLiquidateBorrow = "bond.liquidate_borrow"
	TypeMint            = "bond.mint"
	TypeBurn            = "bond.burn"
)

type IssueBond struct {
	Bond           crypto.Address
	Symbol         string
	Underlying     string
	Collateral     string
	ExpirationTime uint64
}

func (IssueBond) EventType() string { return TypeIssueBond }

func (e IssueBond) Event() *types.Event {
	return &types.Event{Type: TypeIssueBond, Attributes: map[string]string{
		"bond":           formatAddress(e.Bond),
		"symbol":         normalizeAsset(e.Symbol),
		"underlying":     normalizeAsset(e.Underlying),
		"collateral":     normalizeAsset(e.Collateral),
		"expirationTime": strconv.FormatUint(e.ExpirationTime, 10),
	}}
}

type Borrow struct {
	Bond     crypto.Address
	Borrower crypto.Address
	Amount   *big.Int
}

func (Borrow) EventType() string { return TypeBorrow }

func (e Borrow) Event() *types.Event {
	return &types.Event{Type: TypeBorrow, Attributes: map[string]string{
		"bond":     formatAddress(e.Bond),
		"borrower": formatAddress(e.Borrower),
		"amount":   formatAmount(e.Amount),
	}}
}

type RepayBorrow struct {
	Bond     crypto.Address
	Payer    crypto.Address
	Borrower crypto.Address
	Amount   *big.Int
	NewDebt  *big.Int
}

func (RepayBorrow) EventType() string { return TypeRepayBorrow }

func (e RepayBorrow) Event() *types.Event {
	return &types.Event{Type: TypeRepayBorrow, Attributes: map[string]string{
		"bond":     formatAddress(e.Bond),
		"payer":    formatAddress(e.Payer),
		"borrower": formatAddress(e.Borrower),
		"amount":   formatAmount(e.Amount),
		"newDebt":  formatAmount(e.NewDebt),
	}}
}

type LiquidateBorrow struct {
	Bond               crypto.Address
	Liquidator         crypto.Address
	Borrower           crypto.Address
	RepayAmount        *big.Int
	ClutchedCollateral *big.Int
}

func (LiquidateBorrow) EventType() string { return TypeLiquidateBorrow }

func (e LiquidateBorrow) Event() *types.Event {
	return &types.Event{Type: TypeLiquidateBorrow, Attributes: map[string]string{
		"bond":               formatAddress(e.Bond),
		"liquidator":         formatAddress(e.Liquidator),
		"borrower":           formatAddress(e.Borrower),
		"repayAmount":        formatAmount(e.RepayAmount),
		"clutchedCollateral": formatAmount(e.ClutchedCollateral),
	}}
}

type Mint struct {
	Bond        crypto.Address
	Beneficiary crypto.Address
	Amount      *big.Int
}

func (Mint) EventType() string { return TypeMint }

func (e Mint) Event() *types.Event {
	return &types.Event{Type: TypeMint, Attributes: map[string]string{
		"bond":        formatAddress(e.Bond),
		"beneficiary": formatAddress(e.Beneficiary),
		"amount":      formatAmount(e.Amount),
	}}
}

type Burn struct {
	Bond   crypto.Address
	Holder crypto.Address
	Amount *big.Int
}

func (Burn) EventType() string { return TypeBurn }

func (e Burn) Event() *types.Event {
	return &types.Event{Type: TypeBurn, Attributes: map[string]string{
		"bond":   formatAddress(e.Bond),
		"holder": formatAddress(e.Holder),
		"amount": formatAmount(e.Amount),
	}}
}
