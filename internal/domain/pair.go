package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TradingPair is the per-symbol grid configuration.
type TradingPair struct {
	ID                      int64
	Symbol                  string
	StartPrice              decimal.Decimal // zero until the first price is observed
	GridLevelPercentage     decimal.Decimal
	LongStopLossPercentage  decimal.Decimal
	ShortStopLossPercentage decimal.Decimal
	PositionNotional        decimal.Decimal // quote currency per position
	Active                  bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// HasStartPrice reports whether the grid is anchored.
func (p *TradingPair) HasStartPrice() bool {
	return p.StartPrice.IsPositive()
}

// StopLossPercentage returns the side specific stop distance in percent.
func (p *TradingPair) StopLossPercentage(side Side) decimal.Decimal {
	if side == SideLong {
		return p.LongStopLossPercentage
	}
	return p.ShortStopLossPercentage
}

// Validate checks the static configuration. The anchor price is not required.
func (p *TradingPair) Validate() error {
	var err error
	switch {
	case p.Symbol == "":
		err = errors.New("symbol is required")
	case !p.GridLevelPercentage.IsPositive():
		err = errors.New("grid level percentage must be positive")
	case !p.LongStopLossPercentage.IsPositive():
		err = errors.New("long stop loss percentage must be positive")
	case !p.ShortStopLossPercentage.IsPositive():
		err = errors.New("short stop loss percentage must be positive")
	case !p.PositionNotional.IsPositive():
		err = errors.New("position notional must be positive")
	case p.StartPrice.IsNegative():
		err = errors.New("start price must not be negative")
	}
	if err != nil {
		return &ConfigurationError{Symbol: p.Symbol, Err: err}
	}
	return nil
}
