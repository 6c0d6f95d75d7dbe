package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// divisionPrecision matches the grid math: 8 fractional digits, half-up.
const divisionPrecision = 8

// PositionQuantity sizes an entry: notional / price truncated to the instrument precision.
func PositionQuantity(notional, price decimal.Decimal, precision int32) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, ErrZeroQuantity
	}
	qty := notional.DivRound(price, divisionPrecision).Truncate(precision)
	if !qty.IsPositive() {
		return decimal.Zero, ErrZeroQuantity
	}
	return qty, nil
}

// StopLossPrice shifts the entry price against the position by pct percent and
// truncates the result to the instrument price precision.
func StopLossPrice(entry decimal.Decimal, side Side, pct decimal.Decimal, precision int32) decimal.Decimal {
	multiplier := pct.DivRound(hundred, divisionPrecision)
	var stop decimal.Decimal
	if side == SideLong {
		stop = entry.Mul(decimal.NewFromInt(1).Sub(multiplier))
	} else {
		stop = entry.Mul(decimal.NewFromInt(1).Add(multiplier))
	}
	return stop.Truncate(precision)
}
