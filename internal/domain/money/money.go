// Package money provides an immutable amount-in-currency value and conversion
// between currencies through an injected rate lookup.
package money

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept after conversion.
const Scale = 2

var (
	// ErrRateUnavailable is returned when no rate is known for a currency pair.
	// Callers should treat it as recoverable and retry later.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrNegativeAmount  = errors.New("amount must not be negative")
)

// RateLookup resolves the multiplier that converts one unit of from into to.
type RateLookup interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// RateLookupFunc adapts a function to RateLookup.
type RateLookupFunc func(ctx context.Context, from, to string) (decimal.Decimal, error)

func (f RateLookupFunc) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	return f(ctx, from, to)
}

// Money is an amount in a single currency. The zero value is not valid; use New.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New validates and builds a Money value. The currency code is upper-cased.
func New(amount decimal.Decimal, currency string) (Money, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if !ValidCurrency(code) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	if amount.IsNegative() {
		return Money{}, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	return Money{amount: amount, currency: code}, nil
}

// MustNew is New for literals in tests and fixtures.
func MustNew(amount string, currency string) Money {
	m, err := New(decimal.RequireFromString(amount), currency)
	if err != nil {
		panic(err)
	}
	return m
}

// ValidCurrency reports whether code has the shape of an ISO 4217 alphabetic code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }

func (m Money) IsZero() bool { return m.amount.IsZero() }

// Equal compares amount numerically and currency exactly.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// Cmp compares two amounts in the same currency.
func (m Money) Cmp(other Money) (int, error) {
	if m.currency != other.currency {
		return 0, fmt.Errorf("cannot compare %s with %s", m.currency, other.currency)
	}
	return m.amount.Cmp(other.amount), nil
}

func (m Money) String() string {
	return m.amount.StringFixed(Scale) + " " + m.currency
}

// Convert returns m expressed in target using the rate from lookup. The result is
// rounded half-up to Scale digits. Converting into the same currency returns m.
func Convert(ctx context.Context, m Money, target string, lookup RateLookup) (Money, decimal.Decimal, error) {
	code := strings.ToUpper(strings.TrimSpace(target))
	if !ValidCurrency(code) {
		return Money{}, decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidCurrency, target)
	}
	if m.currency == code {
		return m, decimal.NewFromInt(1), nil
	}
	if lookup == nil {
		return Money{}, decimal.Zero, fmt.Errorf("%w: %s->%s: no rate lookup configured", ErrRateUnavailable, m.currency, code)
	}

	rate, err := lookup.Rate(ctx, m.currency, code)
	if err != nil {
		if errors.Is(err, ErrRateUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Money{}, decimal.Zero, err
		}
		return Money{}, decimal.Zero, fmt.Errorf("%w: %s->%s: %v", ErrRateUnavailable, m.currency, code, err)
	}
	if !rate.IsPositive() {
		return Money{}, decimal.Zero, fmt.Errorf("%w: %s->%s: non-positive rate %s", ErrRateUnavailable, m.currency, code, rate)
	}

	return Money{amount: m.amount.Mul(rate).Round(Scale), currency: code}, rate, nil
}
