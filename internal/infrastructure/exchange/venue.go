package exchange

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/config"
	"github.com/vitos/crypto_trade_grid/internal/domain"
)

// Venue bundles the configured exchange adapter with its instrument cache.
type Venue struct {
	Name        string
	Exchange    domain.Exchange
	Instruments *InstrumentCache
	close       func() error
}

// NewVenue builds the adapter selected by cfg.Name. Nothing is requested from the
// exchange until the instrument cache is refreshed or the adapter is used.
func NewVenue(cfg config.ExchangeConfig, logger *zap.Logger) (*Venue, error) {
	fill := FillConfig{Attempts: cfg.FillPollAttempts, Delay: cfg.FillPollDelay()}
	logger = logger.With(zap.String("exchange", cfg.Name))

	switch cfg.Name {
	case "binance":
		bcfg := BinanceConfig{
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			BaseURL:    cfg.RESTEndpoint,
			Testnet:    cfg.Testnet,
			QuoteAsset: cfg.QuoteAsset,
			Fill:       fill,
		}
		client := NewBinanceClient(bcfg)
		cache := NewInstrumentCache(NewBinanceInstruments(client), logger)
		return &Venue{
			Name:        cfg.Name,
			Exchange:    NewBinanceAdapter(client, cache, bcfg, logger),
			Instruments: cache,
			close:       func() error { return nil },
		}, nil

	case "bybit":
		bcfg := BybitConfig{
			APIKey:           cfg.APIKey,
			APISecret:        cfg.APISecret,
			BaseURL:          cfg.RESTEndpoint,
			WSURL:            cfg.WSEndpoint,
			Testnet:          cfg.Testnet,
			QuoteAsset:       cfg.QuoteAsset,
			HedgeCheckSymbol: cfg.HedgeCheckSymbol,
			Fill:             fill,
		}
		client := NewBybitClient(bcfg)
		cache := NewInstrumentCache(NewBybitInstruments(client), logger)
		adapter := NewBybitAdapter(client, cache, bcfg, logger)
		return &Venue{
			Name:        cfg.Name,
			Exchange:    adapter,
			Instruments: cache,
			close:       adapter.Close,
		}, nil
	}
	return nil, fmt.Errorf("unsupported exchange %q", cfg.Name)
}

// Close releases streaming connections.
func (v *Venue) Close() error {
	return v.close()
}
