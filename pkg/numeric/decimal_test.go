package numeric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

func TestMul_PrecisionOverflow(t *testing.T) {
	// 50.00 * 3 rounded to scale 2 is 150.00; integer-digit count 3 exceeds
	// precision(4) - scale(2) = 2. Section 8, scenario 2.
	a, err := ParseDecimal("50.00")
	require.NoError(t, err)
	b, err := ParseDecimal("3")
	require.NoError(t, err)

	_, err = Mul(a, b, DecimalType{Precision: 4, Scale: 2})
	require.Error(t, err)
	kind, ok := tenorerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, tenorerr.KindOverflow, kind)
}

func TestMul_FitsExactly(t *testing.T) {
	a, err := ParseDecimal("12.50")
	require.NoError(t, err)
	b, err := ParseDecimal("2")
	require.NoError(t, err)

	result, err := Mul(a, b, DecimalType{Precision: 4, Scale: 2})
	require.NoError(t, err)
	assert.Equal(t, "25.00", result.String(2))
}

func TestRoundHalfEven(t *testing.T) {
	cases := []struct {
		in, want string
		scale    int
	}{
		{"0.125", "0.12", 2}, // round to even: 2 is even
		{"0.135", "0.14", 2}, // round to even: 4 is even
		{"2.5", "2", 0},
		{"3.5", "4", 0},
		{"-0.125", "-0.12", 2},
	}
	for _, c := range cases {
		d, err := ParseDecimal(c.in)
		require.NoError(t, err)
		got := d.String(c.scale)
		assert.Equal(t, c.want, got, "rounding %s to scale %d", c.in, c.scale)
	}
}

func TestPromoteInt(t *testing.T) {
	d, err := PromoteInt(42, DecimalType{Precision: 10, Scale: 2})
	require.NoError(t, err)
	assert.Equal(t, "42.00", d.String(2))
}

func TestPromoteInt_Overflow(t *testing.T) {
	_, err := PromoteInt(1000, DecimalType{Precision: 3, Scale: 0})
	require.Error(t, err)
	kind, _ := tenorerr.KindOf(err)
	assert.Equal(t, tenorerr.KindOverflow, kind)
}

func TestPrecisionAboveCeiling_NeverOverflows(t *testing.T) {
	a, err := ParseDecimal("999999999999999999999999999999999.00")
	require.NoError(t, err)
	b, err := ParseDecimal("2")
	require.NoError(t, err)
	_, err = Mul(a, b, DecimalType{Precision: 40, Scale: 2})
	require.NoError(t, err)
}

func TestCompareMoney_CrossCurrency(t *testing.T) {
	amt, _ := ParseDecimal("100")
	usd, err := NewMoney(amt, "usd")
	require.NoError(t, err)
	eur, err := NewMoney(amt, "eur")
	require.NoError(t, err)

	_, err = CompareMoney(usd, eur)
	require.Error(t, err)
	kind, _ := tenorerr.KindOf(err)
	assert.Equal(t, tenorerr.KindTypeError, kind)
	assert.Contains(t, err.Error(), "different currencies")
}

func TestCompareMoney_SameCurrency(t *testing.T) {
	a, _ := ParseDecimal("100.00")
	b, _ := ParseDecimal("99.99")
	x, err := NewMoney(a, "USD")
	require.NoError(t, err)
	y, err := NewMoney(b, "USD")
	require.NoError(t, err)

	cmp, err := CompareMoney(x, y)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)
}

func TestCompareDuration_CrossUnit(t *testing.T) {
	a := Duration{Count: 60, Unit: UnitMinutes}
	b := Duration{Count: 1, Unit: UnitHours}
	_, err := CompareDuration(a, b)
	require.Error(t, err)
	kind, _ := tenorerr.KindOf(err)
	assert.Equal(t, tenorerr.KindTypeError, kind)
}

func TestCompareDuration_SameUnit(t *testing.T) {
	a := Duration{Count: 120, Unit: UnitSeconds}
	b := Duration{Count: 60, Unit: UnitSeconds}
	cmp, err := CompareDuration(a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)
}
