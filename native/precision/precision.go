// Package precision implements the 18-fractional-digit fixed-point arithmetic
// shared by every ledger module. Quantities travel as *big.Int so they remain
// RLP encodable; every operation is evaluated on 256-bit unsigned integers and
// fails instead of wrapping when the result leaves that range.
package precision

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional digits of the internal representation.
const Decimals = 18

var (
	ErrDecimalsOutOfRange = errors.New("precision: decimals must be between 1 and 18")
	ErrOverflow           = errors.New("precision: fixed-point overflow")
	ErrNegative           = errors.New("precision: negative quantity")
	ErrDivisionByZero     = errors.New("precision: division by zero")
	ErrInvalidDecimal     = errors.New("precision: invalid decimal string")
)

var (
	scale     = uint256.NewInt(1_000_000_000_000_000_000)
	scaleBig  = scale.ToBig()
	ten       = uint256.NewInt(10)
	percentBy = uint256.NewInt(10_000_000_000_000_000) // 1% == 1e16
)

// One returns 1.0 in fixed-point form (10^18).
func One() *big.Int {
	return new(big.Int).Set(scaleBig)
}

// Percent returns p% in fixed-point form, e.g. Percent(150) == 1.5e18.
func Percent(p uint64) *big.Int {
	out := new(uint256.Int).Mul(uint256.NewInt(p), percentBy)
	return out.ToBig()
}

func toU256(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	if x.Sign() < 0 {
		return nil, ErrNegative
	}
	v, overflow := uint256.FromBig(x)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// Scalar returns 10^(18-decimals), the factor that lifts an amount expressed
// with `decimals` fractional digits into the internal representation.
func Scalar(decimals uint8) (*big.Int, error) {
	s, err := scalar(decimals)
	if err != nil {
		return nil, err
	}
	return s.ToBig(), nil
}

func scalar(decimals uint8) (*uint256.Int, error) {
	if decimals == 0 || decimals > Decimals {
		return nil, fmt.Errorf("%w: got %d", ErrDecimalsOutOfRange, decimals)
	}
	return new(uint256.Int).Exp(ten, uint256.NewInt(uint64(Decimals-decimals))), nil
}

// Normalize converts a native amount with `decimals` fractional digits into
// the 18-digit representation.
func Normalize(amount *big.Int, decimals uint8) (*big.Int, error) {
	s, err := scalar(decimals)
	if err != nil {
		return nil, err
	}
	v, err := toU256(amount)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).MulOverflow(v, s)
	if overflow {
		return nil, ErrOverflow
	}
	return out.ToBig(), nil
}

// Denormalize converts an 18-digit quantity back into an asset's native
// granularity, truncating the digits the asset cannot represent.
func Denormalize(amount *big.Int, decimals uint8) (*big.Int, error) {
	s, err := scalar(decimals)
	if err != nil {
		return nil, err
	}
	v, err := toU256(amount)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(v, s).ToBig(), nil
}

// MulDiv returns floor(a*b/d) using a 512-bit intermediate product, failing
// only when the final quotient does not fit in 256 bits.
func MulDiv(a, b, d *big.Int) (*big.Int, error) {
	x, err := toU256(a)
	if err != nil {
		return nil, err
	}
	y, err := toU256(b)
	if err != nil {
		return nil, err
	}
	z, err := toU256(d)
	if err != nil {
		return nil, err
	}
	if z.IsZero() {
		return nil, ErrDivisionByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, z)
	if overflow {
		return nil, ErrOverflow
	}
	return out.ToBig(), nil
}

// Mul multiplies two fixed-point values: floor(a*b/1e18).
func Mul(a, b *big.Int) (*big.Int, error) {
	return MulDiv(a, b, scaleBig)
}

// Div divides two fixed-point values: floor(a*1e18/b).
func Div(a, b *big.Int) (*big.Int, error) {
	return MulDiv(a, scaleBig, b)
}

// Ratio returns floor(a*b*1e18 / (c*d)) without truncating either product,
// so small denominators stay nonzero. Operands must fit in 256 bits and so
// must the quotient.
func Ratio(a, b, c, d *big.Int) (*big.Int, error) {
	operands := make([]*big.Int, 0, 4)
	for _, x := range []*big.Int{a, b, c, d} {
		v, err := toU256(x)
		if err != nil {
			return nil, err
		}
		operands = append(operands, v.ToBig())
	}
	den := new(big.Int).Mul(operands[2], operands[3])
	if den.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	num := new(big.Int).Mul(operands[0], operands[1])
	num.Mul(num, scaleBig)
	out := num.Quo(num, den)
	if out.BitLen() > 256 {
		return nil, ErrOverflow
	}
	return out, nil
}

// Add returns a+b, failing when the sum leaves the 256-bit range.
func Add(a, b *big.Int) (*big.Int, error) {
	x, err := toU256(a)
	if err != nil {
		return nil, err
	}
	y, err := toU256(b)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return out.ToBig(), nil
}

// Sub returns a-b, failing with ErrNegative when b > a.
func Sub(a, b *big.Int) (*big.Int, error) {
	x, err := toU256(a)
	if err != nil {
		return nil, err
	}
	y, err := toU256(b)
	if err != nil {
		return nil, err
	}
	out, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrNegative
	}
	return out.ToBig(), nil
}

// Parse reads a decimal string such as "1.5" or "150%" into fixed-point form.
// Digits beyond the 18th fractional digit are rejected rather than rounded.
func Parse(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	percent := strings.HasSuffix(trimmed, "%")
	trimmed = strings.TrimSuffix(trimmed, "%")
	if trimmed == "" {
		return nil, ErrInvalidDecimal
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("%w: more than %d fractional digits", ErrInvalidDecimal, Decimals)
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	out, ok := new(big.Int).SetString(digits, 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, value)
	}
	if percent {
		out.Quo(out, big.NewInt(100))
	}
	if _, err := toU256(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Format renders a fixed-point value with trailing zeros trimmed, e.g.
// 1.5e18 becomes "1.5".
func Format(x *big.Int) string {
	if x == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Set(x)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}
	whole, frac := new(big.Int).QuoRem(abs, scaleBig, new(big.Int))
	if frac.Sign() == 0 {
		return sign + whole.String()
	}
	fracStr := frac.String()
	fracStr = strings.Repeat("0", Decimals-len(fracStr)) + fracStr
	return sign + whole.String() + "." + strings.TrimRight(fracStr, "0")
}
