package domain

import "github.com/shopspring/decimal"

// minorUnitExponent is the number of fractional digits kept in storage.
const minorUnitExponent = 2

// MinorUnits converts a decimal amount to integer minor units (tiyn, cents),
// rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(minorUnitExponent).Shift(minorUnitExponent).IntPart()
}

// FromMinorUnits converts stored minor units back to a decimal amount.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -minorUnitExponent)
}

// HasWholeMinorUnits reports whether amount needs no rounding to be stored,
// so "1.50" and "1.500" qualify but "0.005" does not.
func HasWholeMinorUnits(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(minorUnitExponent))
}
