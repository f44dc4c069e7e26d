package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnitExponents lists ISO-4217 currencies whose minor unit differs from two decimals.
var minorUnitExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
}

// MinorUnitExponent returns the number of decimal places used by the currency.
func MinorUnitExponent(currency string) int32 {
	if exp, ok := minorUnitExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return 2
}

// ToMinorUnits converts a major-unit decimal price (e.g. 499.50 INR) into minor units (49950 paise).
// Fractions below the minor unit are rejected instead of rounded.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount %s must not be negative", amount.String())
	}
	exp := MinorUnitExponent(currency)
	scaled := amount.Shift(exp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more precision than %s allows", amount.String(), currency)
	}
	return scaled.IntPart(), nil
}

// FromMinorUnits converts minor units back to a major-unit decimal.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -MinorUnitExponent(currency))
}

// FormatMinorUnits renders minor units with the currency's fixed decimal places.
func FormatMinorUnits(amount int64, currency string) string {
	return FromMinorUnits(amount, currency).StringFixed(MinorUnitExponent(currency))
}
