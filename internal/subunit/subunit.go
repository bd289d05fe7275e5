// Package subunit holds the fixed-point arithmetic shared by the tax engine.
// Asset amounts are integer counts of the asset's smallest unit (wei for ETH)
// and every currency figure is derived from exact decimal math with
// round-half-up. Monetary values never pass through float64.
package subunit

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativePlaces is returned when rounding to a negative number of
	// fractional digits is requested.
	ErrNegativePlaces = errors.New("subunit: places must not be negative")

	// ErrZeroDenominator is returned by RoundRatio for a zero divisor.
	ErrZeroDenominator = errors.New("subunit: denominator must not be zero")

	// ErrOutOfDomain is wrapped by Domain.Validate failures.
	ErrOutOfDomain = errors.New("subunit: value out of domain")

	// ErrNotInteger is returned when a subunit amount has a fractional part.
	ErrNotInteger = errors.New("subunit: value must be a whole number of subunits")
)

// RoundToInteger rounds an exact value to the nearest integer. Ties round
// away from zero.
func RoundToInteger(exact decimal.Decimal) decimal.Decimal {
	return exact.Round(0)
}

// RoundRatio returns num/den rounded half away from zero to an integer.
// The quotient is computed with integer division and remainder, so very large
// operands (amount * unit price reaches ~10^38) lose no precision.
func RoundRatio(num, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Zero, ErrZeroDenominator
	}
	q, r := num.QuoRem(den, 0)
	if r.IsZero() {
		return q, nil
	}
	// |2r| >= |den| means the fractional part is at least one half.
	if r.Abs().Mul(decimal.NewFromInt(2)).GreaterThanOrEqual(den.Abs()) {
		if num.Sign()*den.Sign() < 0 {
			return q.Sub(decimal.NewFromInt(1)), nil
		}
		return q.Add(decimal.NewFromInt(1)), nil
	}
	return q, nil
}

// RoundToPlaces rounds half up to the given number of fractional digits.
func RoundToPlaces(exact decimal.Decimal, places int32) (decimal.Decimal, error) {
	if places < 0 {
		return decimal.Zero, fmt.Errorf("%w: got %d", ErrNegativePlaces, places)
	}
	return exact.Round(places), nil
}

// Domain is the valid range for a validated number.
type Domain int

const (
	Positive Domain = iota + 1
	NonNegative
)

func (d Domain) contains(v decimal.Decimal) bool {
	switch d {
	case Positive:
		return v.IsPositive()
	case NonNegative:
		return !v.IsNegative()
	}
	return false
}

func (d Domain) String() string {
	switch d {
	case Positive:
		return "greater than zero"
	case NonNegative:
		return "greater than or equal to zero"
	}
	return "unknown domain"
}

// Validate reports an error naming field, the domain and the offending value
// when v is outside the domain.
func (d Domain) Validate(field string, v decimal.Decimal) error {
	if d.contains(v) {
		return nil
	}
	return fmt.Errorf("%w: expected '%s' %s, got %s instead", ErrOutOfDomain, field, d, v.String())
}

// ValidateInteger rejects values with a fractional part.
func ValidateInteger(field string, v decimal.Decimal) error {
	if v.IsInteger() {
		return nil
	}
	return fmt.Errorf("%w: '%s' is %s", ErrNotInteger, field, v.String())
}
