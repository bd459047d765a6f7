package numeric

import "github.com/riverline-labs/tenor/pkg/tenorerr"

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Hint is the optional "comparison type" hint of section 4.1: it tells
// Compare how to promote the two operands before applying op.
type Hint string

const (
	HintNone    Hint = ""
	HintDecimal Hint = "Decimal"
	HintMoney   Hint = "Money"
	HintInt     Hint = "Int"
)

// ApplyOp turns a signed three-way comparison result into a boolean for
// the given operator.
func ApplyOp(op Op, cmp int) (bool, error) {
	switch op {
	case OpEq:
		return cmp == 0, nil
	case OpNe:
		return cmp != 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLe:
		return cmp <= 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpGe:
		return cmp >= 0, nil
	default:
		return false, tenorerr.New(tenorerr.KindTypeError, "unknown comparison operator %q", op)
	}
}

// CompareDecimalHinted coerces two operands to Decimal at the hint scale
// before comparing. Integers are promoted via PromoteInt; decimals are
// rounded to the hint's scale first so e.g. 1.50 at scale 2 compares equal
// to 1.5 at scale 1 when both are promoted to the same target scale.
func CompareDecimalHinted(a, b Decimal, target DecimalType) (int, error) {
	ra := roundRat(a.rat, target.Scale, RoundHalfEven)
	rb := roundRat(b.rat, target.Scale, RoundHalfEven)
	return ra.Cmp(rb), nil
}
