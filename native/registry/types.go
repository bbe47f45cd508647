package registry

import (
	"math/big"

	"bondledger/native/precision"
)

// Flag names a per-bond feature switch.
type Flag string

const (
	FlagBorrow            Flag = "borrow"
	FlagDepositCollateral Flag = "deposit_collateral"
	FlagLiquidateBorrow   Flag = "liquidate_borrow"
	FlagRepayBorrow       Flag = "repay_borrow"
	FlagRedeem            Flag = "redeem"
	FlagSupplyUnderlying  Flag = "supply_underlying"
)

// Flags lists every feature switch in a stable order.
var Flags = []Flag{
	FlagBorrow,
	FlagDepositCollateral,
	FlagLiquidateBorrow,
	FlagRepayBorrow,
	FlagRedeem,
	FlagSupplyUnderlying,
}

// ParseFlag accepts both the snake case flag name and the camel case setter
// stem, e.g. "deposit_collateral" and "depositCollateral".
func ParseFlag(name string) (Flag, bool) {
	for _, flag := range Flags {
		if string(flag) == name || flag.camel() == name {
			return flag, true
		}
	}
	return "", false
}

func (f Flag) camel() string {
	out := make([]byte, 0, len(f))
	upper := false
	for i := 0; i < len(f); i++ {
		c := f[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}

// Bond is the registry entry of a bond. Unlisted bonds read as the zero value.
type Bond struct {
	IsListed                 bool
	CollateralizationRatio   *big.Int
	DebtCeiling              *big.Int
	LiquidationIncentive     *big.Int
	BorrowAllowed            bool
	DepositCollateralAllowed bool
	LiquidateBorrowAllowed   bool
	RepayBorrowAllowed       bool
	RedeemAllowed            bool
	SupplyUnderlyingAllowed  bool
}

func (b *Bond) flag(f Flag) *bool {
	switch f {
	case FlagBorrow:
		return &b.BorrowAllowed
	case FlagDepositCollateral:
		return &b.DepositCollateralAllowed
	case FlagLiquidateBorrow:
		return &b.LiquidateBorrowAllowed
	case FlagRepayBorrow:
		return &b.RepayBorrowAllowed
	case FlagRedeem:
		return &b.RedeemAllowed
	case FlagSupplyUnderlying:
		return &b.SupplyUnderlyingAllowed
	}
	return nil
}

func (b *Bond) ensureDefaults() {
	if b.CollateralizationRatio == nil {
		b.CollateralizationRatio = big.NewInt(0)
	}
	if b.DebtCeiling == nil {
		b.DebtCeiling = big.NewInt(0)
	}
	if b.LiquidationIncentive == nil {
		b.LiquidationIncentive = big.NewInt(0)
	}
}

// Clone returns a deep copy of the entry.
func (b Bond) Clone() Bond {
	clone := b
	clone.ensureDefaults()
	clone.CollateralizationRatio = new(big.Int).Set(clone.CollateralizationRatio)
	clone.DebtCeiling = new(big.Int).Set(clone.DebtCeiling)
	clone.LiquidationIncentive = new(big.Int).Set(clone.LiquidationIncentive)
	return clone
}

var (
	// DefaultCollateralizationRatio is applied by ListBond (150%).
	DefaultCollateralizationRatio = precision.Percent(150)
	// DefaultLiquidationIncentive is applied by ListBond (110%).
	DefaultLiquidationIncentive = precision.Percent(110)

	MinCollateralizationRatio = precision.Percent(100)
	MaxCollateralizationRatio = precision.Percent(10_000)
	MinLiquidationIncentive   = precision.Percent(100)
	MaxLiquidationIncentive   = precision.Percent(150)
)
