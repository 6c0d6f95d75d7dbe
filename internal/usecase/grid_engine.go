package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

// StepPrecision is the number of fractional digits kept for the grid step.
const StepPrecision = 8

var hundred = decimal.NewFromInt(100)

// ComputeStep returns startPrice * levelPercentage / 100, rounded half-up to 8 digits.
func ComputeStep(startPrice, levelPercentage decimal.Decimal) (decimal.Decimal, error) {
	step := startPrice.Mul(levelPercentage).DivRound(hundred, StepPrecision)
	if !step.IsPositive() {
		return decimal.Zero, domain.ErrInvalidGridStep
	}
	return step, nil
}

// PairStep computes the grid step of an anchored pair.
func PairStep(pair *domain.TradingPair) (decimal.Decimal, error) {
	step, err := ComputeStep(pair.StartPrice, pair.GridLevelPercentage)
	if err != nil {
		return decimal.Zero, &domain.ConfigurationError{Symbol: pair.Symbol, Err: err}
	}
	return step, nil
}

// FindCrossedLevel returns the grid point startPrice + k*step farthest from oldPrice in
// the direction of travel that lies in (oldPrice, newPrice] when moving up or in
// [newPrice, oldPrice) when moving down. Levels jumped over in the same observation are
// not reported.
func FindCrossedLevel(startPrice, step, oldPrice, newPrice decimal.Decimal) (decimal.Decimal, bool) {
	if !step.IsPositive() || oldPrice.Equal(newPrice) {
		return decimal.Zero, false
	}

	offset := newPrice.Sub(startPrice)
	if newPrice.GreaterThan(oldPrice) {
		level := startPrice.Add(step.Mul(floorDiv(offset, step)))
		if level.GreaterThan(oldPrice) {
			return level, true
		}
		return decimal.Zero, false
	}

	level := startPrice.Add(step.Mul(ceilDiv(offset, step)))
	if level.LessThan(oldPrice) {
		return level, true
	}
	return decimal.Zero, false
}

// NextLevel is one step further in the direction of travel.
func NextLevel(level, step decimal.Decimal, movingUp bool) decimal.Decimal {
	if movingUp {
		return level.Add(step)
	}
	return level.Sub(step)
}

// PreviousLevel is one step back toward where the price came from.
func PreviousLevel(level, step decimal.Decimal, movingUp bool) decimal.Decimal {
	return NextLevel(level, step, !movingUp)
}

// floorDiv returns floor(a / b) for b > 0 using exact integer division.
func floorDiv(a, b decimal.Decimal) decimal.Decimal {
	q, r := a.QuoRem(b, 0)
	if r.IsNegative() {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q
}

// ceilDiv returns ceil(a / b) for b > 0 using exact integer division.
func ceilDiv(a, b decimal.Decimal) decimal.Decimal {
	q, r := a.QuoRem(b, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q
}
