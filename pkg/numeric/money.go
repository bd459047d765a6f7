package numeric

import "github.com/riverline-labs/tenor/pkg/tenorerr"

// Money pairs an exact decimal amount with an ISO 4217 currency code.
// Per section 4.1, comparison between Money values requires matching
// currencies regardless of operator, including equality.
type Money struct {
	Amount   Decimal
	Currency string
}

// NewMoney validates the currency code and wraps the amount.
func NewMoney(amount Decimal, currency string) (Money, error) {
	code, err := normalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount, Currency: code}, nil
}

// CompareMoney compares two Money values. Unequal currencies always fail
// with TypeError, even for equality comparisons.
func CompareMoney(a, b Money) (int, error) {
	if a.Currency != b.Currency {
		return 0, tenorerr.New(tenorerr.KindTypeError,
			"cannot compare money values with different currencies: %s vs %s", a.Currency, b.Currency)
	}
	return a.Amount.Cmp(b.Amount), nil
}
