package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// InstrumentInfo holds per-symbol precision rules.
type InstrumentInfo struct {
	Symbol            string
	QuantityPrecision int32 // fractional digits allowed in order quantity
	PricePrecision    int32 // fractional digits allowed in prices
	StepSize          decimal.Decimal
	TickSize          decimal.Decimal
}

// PrecisionOf returns the number of fractional digits of a step like "0.0010" (3).
func PrecisionOf(step decimal.Decimal) int32 {
	if !step.IsPositive() {
		return 0
	}
	s := step.String() // trailing zeros are trimmed
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return 0
	}
	return int32(len(s) - idx - 1)
}
