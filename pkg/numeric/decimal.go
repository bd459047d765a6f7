// Package numeric implements exact decimal arithmetic for Tenor's value
// model: banker's rounding, declared precision/scale, and the promotion,
// multiplication, and comparison rules of section 4.1. No float64 is ever
// produced or consumed here — every intermediate value is an exact
// math/big.Rat until the moment it is formatted back to a decimal string.
package numeric

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// Rounding is the rounding strategy applied when a computation's exact
// result does not fit the declared scale. Tenor only ever uses HalfEven
// (banker's rounding); the other modes exist for exhaustiveness and tests.
type Rounding string

const (
	RoundDown     Rounding = "DOWN"
	RoundHalfUp   Rounding = "HALF_UP"
	RoundHalfEven Rounding = "HALF_EVEN"
)

// MaxRepresentablePrecision is the ceiling named in section 4.1; precision
// bounds above it are treated as "any Decimal value fits".
const MaxRepresentablePrecision = 28

var decimalPattern = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

// Decimal is an exact decimal value: a sign, digit string, and scale,
// backed internally by a math/big.Rat so every arithmetic step is exact
// until the final round-to-scale.
type Decimal struct {
	rat *big.Rat
}

// DecimalType declares the precision/scale a Decimal value is constrained
// to. Precision is the total number of significant digits; scale is the
// number of fractional digits. Precision values above
// MaxRepresentablePrecision impose no constraint.
type DecimalType struct {
	Precision int
	Scale     int
}

// ParseDecimal parses a decimal literal (as it arrives from JSON: either a
// JSON number already stringified by the caller, or a string) into an
// exact Decimal with no rounding applied.
func ParseDecimal(s string) (Decimal, error) {
	if !decimalPattern.MatchString(s) {
		return Decimal{}, tenorerr.New(tenorerr.KindDeserialize, "invalid decimal literal %q", s)
	}
	rat := new(big.Rat)
	if _, ok := rat.SetString(s); !ok {
		return Decimal{}, tenorerr.New(tenorerr.KindDeserialize, "decimal literal %q is not a valid rational", s)
	}
	return Decimal{rat: rat}, nil
}

// PromoteInt produces the exact decimal representation of an integer,
// rounded to the target type's scale. Promotion of an integer never
// overflows on its own digit count unless the target precision is smaller
// than the integer already demands.
func PromoteInt(i int64, target DecimalType) (Decimal, error) {
	rat := new(big.Rat).SetInt64(i)
	return roundAndCheck(rat, target)
}

// Mul computes the exact mathematical product of a and b, rounds to the
// result type's scale with banker's rounding, and fails Overflow if the
// rounded result's integer-digit count exceeds precision-scale.
func Mul(a, b Decimal, result DecimalType) (Decimal, error) {
	product := new(big.Rat).Mul(a.rat, b.rat)
	return roundAndCheck(product, result)
}

// MulInt multiplies a decimal by an integer literal directly (the
// fact_ref * literal form of a rule's payload expression), avoiding a
// PromoteInt round-trip so the integer side never itself overflows the
// decimal's intermediate representation.
func MulInt(a Decimal, lit int64, result DecimalType) (Decimal, error) {
	product := new(big.Rat).Mul(a.rat, new(big.Rat).SetInt64(lit))
	return roundAndCheck(product, result)
}

func roundAndCheck(rat *big.Rat, target DecimalType) (Decimal, error) {
	rounded := roundRat(rat, target.Scale, RoundHalfEven)
	if target.Precision <= MaxRepresentablePrecision {
		if digits := integerDigitCount(rounded, target.Scale); digits > target.Precision-target.Scale {
			return Decimal{}, tenorerr.New(tenorerr.KindOverflow,
				"result requires %d integer digits but precision %d scale %d allows %d",
				digits, target.Precision, target.Scale, target.Precision-target.Scale)
		}
	}
	return Decimal{rat: rounded}, nil
}

// roundRat rounds rat to `scale` fractional digits using the given mode,
// returning the rounded value as an exact big.Rat (scale still implicit;
// String()/integerDigitCount reconstruct the decimal representation).
func roundRat(rat *big.Rat, scale int, mode Rounding) *big.Rat {
	scaleFactor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scaleFactor))

	intPart := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	remainder := new(big.Int).Rem(scaled.Num(), scaled.Denom())

	if remainder.Sign() != 0 {
		absRemainder := new(big.Int).Abs(remainder)
		doubled := new(big.Int).Lsh(absRemainder, 1)
		denom := scaled.Denom()
		cmp := doubled.Cmp(denom)

		roundUp := false
		switch mode {
		case RoundDown:
			roundUp = false
		case RoundHalfUp:
			roundUp = cmp >= 0
		case RoundHalfEven:
			if cmp > 0 {
				roundUp = true
			} else if cmp == 0 {
				roundUp = new(big.Int).And(intPart, big.NewInt(1)).Sign() != 0
			}
		}
		if roundUp {
			if rat.Sign() < 0 {
				intPart.Sub(intPart, big.NewInt(1))
			} else {
				intPart.Add(intPart, big.NewInt(1))
			}
		}
	}

	result := new(big.Rat).SetInt(intPart)
	return result.Quo(result, new(big.Rat).SetInt(scaleFactor))
}

// integerDigitCount returns the number of digits to the left of the
// decimal point in rat, which is assumed already rounded to `scale`.
func integerDigitCount(rat *big.Rat, scale int) int {
	scaleFactor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
	scaledInt := new(big.Int).Mul(rat.Num(), scaleFactor)
	scaledInt.Quo(scaledInt, rat.Denom())
	scaledInt.Abs(scaledInt)
	if scaledInt.Sign() == 0 {
		return 0
	}
	s := scaledInt.String()
	intDigits := len(s) - scale
	if intDigits < 0 {
		intDigits = 0
	}
	return intDigits
}

// String renders the decimal at the given scale, e.g. for serialization.
func (d Decimal) String(scale int) string {
	rounded := roundRat(d.rat, scale, RoundHalfEven)
	sign := ""
	num := new(big.Int).Set(rounded.Num())
	scaleFactor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
	scaledInt := new(big.Int).Mul(num, scaleFactor)
	scaledInt.Quo(scaledInt, rounded.Denom())
	if scaledInt.Sign() < 0 {
		sign = "-"
		scaledInt.Abs(scaledInt)
	}
	if scale == 0 {
		return sign + scaledInt.String()
	}
	digits := scaledInt.String()
	for len(digits) <= scale {
		digits = "0" + digits
	}
	insert := len(digits) - scale
	return sign + digits[:insert] + "." + digits[insert:]
}

// Cmp compares two decimals exactly (no scale coercion — callers apply
// PromoteInt/scale alignment first per the comparison-type hint rules).
func (d Decimal) Cmp(other Decimal) int { return d.rat.Cmp(other.rat) }

// IsZero reports whether the decimal is exactly zero.
func (d Decimal) IsZero() bool { return d.rat.Sign() == 0 }

// Rat exposes the underlying exact rational for use by Money/Duration
// wrappers in this package; it is not part of the public value model.
func (d Decimal) Rat() *big.Rat { return d.rat }

// FromRat wraps an already-computed big.Rat as a Decimal (used internally
// by Money when converting minor-unit-free decimal amounts).
func FromRat(r *big.Rat) Decimal { return Decimal{rat: new(big.Rat).Set(r)} }

func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", tenorerr.New(tenorerr.KindTypeError, "currency code %q must be a 3-letter ISO 4217 code", code)
	}
	return code, nil
}
