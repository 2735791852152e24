// Package money converts between the gateway's minor-unit integers and the
// decimal.Decimal values used everywhere else in this codebase, grounded on
// the money-handling idiom of signalmachine-accounting-agent's
// internal/core/order_model.go (shopspring/decimal for every monetary
// field, never float64).
package money

import "github.com/shopspring/decimal"

// hundred is the minor-unit divisor; the gateway contract (spec §6) always
// expresses amounts in minor units (e.g. cents), consistent across currencies
// supported by this service.
var hundred = decimal.NewFromInt(100)

// FromMinorUnits converts a gateway amount (e.g. 200000 == 2000.00) into a
// decimal.Decimal major-unit value.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(hundred)
}

// ToMinorUnits converts a major-unit decimal value into gateway minor units,
// rounding to the nearest integer minor unit.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}
