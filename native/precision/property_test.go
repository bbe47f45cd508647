package precision

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func properties(t *testing.T) *gopter.Properties {
	t.Helper()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	return gopter.NewProperties(parameters)
}

func TestNormalizeRoundTripProperty(t *testing.T) {
	props := properties(t)
	props.Property("Denormalize(Normalize(a)) == a", prop.ForAll(
		func(raw uint64, decimals uint8) bool {
			amount := new(big.Int).SetUint64(raw)
			normalized, err := Normalize(amount, decimals)
			if err != nil {
				return false
			}
			back, err := Denormalize(normalized, decimals)
			return err == nil && back.Cmp(amount) == 0
		},
		gen.UInt64(),
		gen.UInt8Range(1, Decimals),
	))
	props.TestingRun(t)
}

func TestMulDivMatchesFloor(t *testing.T) {
	props := properties(t)
	props.Property("MulDiv == floor(a*b/d)", prop.ForAll(
		func(a, b, d uint64) bool {
			x, y, z := new(big.Int).SetUint64(a), new(big.Int).SetUint64(b), new(big.Int).SetUint64(d)
			got, err := MulDiv(x, y, z)
			if d == 0 {
				return err != nil
			}
			want := new(big.Int).Mul(x, y)
			want.Quo(want, z)
			return err == nil && got.Cmp(want) == 0
		},
		gen.UInt64(),
		gen.UInt64(),
		gen.UInt64(),
	))
	props.Property("Mul by One is identity", prop.ForAll(
		func(a uint64) bool {
			x := new(big.Int).SetUint64(a)
			got, err := Mul(x, One())
			return err == nil && got.Cmp(x) == 0
		},
		gen.UInt64(),
	))
	props.TestingRun(t)
}

func TestAddSubInverse(t *testing.T) {
	props := properties(t)
	props.Property("Sub(Add(a, b), b) == a", prop.ForAll(
		func(a, b uint64) bool {
			x, y := new(big.Int).SetUint64(a), new(big.Int).SetUint64(b)
			sum, err := Add(x, y)
			if err != nil {
				return false
			}
			back, err := Sub(sum, y)
			return err == nil && back.Cmp(x) == 0
		},
		gen.UInt64(),
		gen.UInt64(),
	))
	props.TestingRun(t)
}

func TestParseFormatRoundTrip(t *testing.T) {
	props := properties(t)
	props.Property("Parse(Format(x)) == x", prop.ForAll(
		func(raw uint64) bool {
			x := new(big.Int).SetUint64(raw)
			parsed, err := Parse(Format(x))
			return err == nil && parsed.Cmp(x) == 0
		},
		gen.UInt64(),
	))
	props.TestingRun(t)
}
