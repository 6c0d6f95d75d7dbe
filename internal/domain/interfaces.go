package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Exchange defines the interface for interacting with a futures exchange account
// running in hedge mode.
type Exchange interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetAccountBalance(ctx context.Context) (decimal.Decimal, error)
	// OpenPosition places a market entry followed by a protective stop. When the stop
	// would trigger immediately it returns *UnprotectedPositionError describing the
	// filled entry so the caller can flatten it.
	OpenPosition(ctx context.Context, pair *TradingPair, side Side, entryPrice, takeProfitPrice decimal.Decimal) (*Position, error)
	// ClosePosition cancels the tracked stop order and closes the position quantity at
	// market, returning the average fill price.
	ClosePosition(ctx context.Context, pos *Position) (decimal.Decimal, error)
	GetOpenOrderIDs(ctx context.Context, symbol string) (map[string]struct{}, error)
	IsHedgeModeEnabled(ctx context.Context) (bool, error)
}

// PriceStreamer is implemented by exchanges that can push prices for subscribed symbols.
type PriceStreamer interface {
	Subscribe(symbols []string) error
}

// InstrumentCatalog resolves precision rules for a symbol.
type InstrumentCatalog interface {
	Instrument(ctx context.Context, symbol string) (InstrumentInfo, error)
	Refresh(ctx context.Context) error
}

// PairRepository defines storage operations for trading pairs.
type PairRepository interface {
	SavePair(ctx context.Context, pair *TradingPair) error
	GetPairBySymbol(ctx context.Context, symbol string) (*TradingPair, error)
	ListPairs(ctx context.Context) ([]*TradingPair, error)
	ListActivePairs(ctx context.Context) ([]*TradingPair, error)
	UpdateStartPrice(ctx context.Context, pairID int64, price decimal.Decimal) error
	SetActive(ctx context.Context, pairID int64, active bool) error
}

// PositionRepository defines storage operations for positions.
type PositionRepository interface {
	SavePosition(ctx context.Context, pos *Position) error
	FindOpenPositions(ctx context.Context, pairID int64) ([]*Position, error)
	FindPositionsEligibleForTakeProfit(ctx context.Context, pairID int64, level decimal.Decimal) ([]*Position, error)
	// ExistsOpenPositionAtLevel reports an OPEN position of the side entered at the
	// level or beyond it against the side: LONG at or below, SHORT at or above.
	ExistsOpenPositionAtLevel(ctx context.Context, pairID int64, level decimal.Decimal, side Side) (bool, error)
	ExistsAnyOpenPosition(ctx context.Context, pairID int64) (bool, error)
	ListPositions(ctx context.Context, filter PositionFilter) ([]*Position, error)
}

// Notifier delivers position events to operators. Delivery is best effort.
type Notifier interface {
	NotifyOpened(pos *Position)
	NotifyClosed(pos *Position)
}
