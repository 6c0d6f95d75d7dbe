package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Trading  TradingConfig  `yaml:"trading"`
	Telegram TelegramConfig `yaml:"telegram"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Pairs    []PairConfig   `yaml:"pairs"`
}

type ExchangeConfig struct {
	Name             string `yaml:"name"` // binance or bybit
	APIKey           string `yaml:"api_key"`
	APISecret        string `yaml:"api_secret"`
	RESTEndpoint     string `yaml:"rest_endpoint"`
	WSEndpoint       string `yaml:"ws_endpoint"`
	Testnet          bool   `yaml:"testnet"`
	QuoteAsset       string `yaml:"quote_asset"`
	HedgeCheckSymbol string `yaml:"hedge_check_symbol"`
	FillPollAttempts int    `yaml:"fill_poll_attempts"`
	FillPollDelayMs  int    `yaml:"fill_poll_delay_ms"`
}

type TradingConfig struct {
	PollIntervalMs         int `yaml:"poll_interval_ms"`
	InstrumentsRefreshMin  int `yaml:"instruments_refresh_min"`
	ShutdownGracePeriodSec int `yaml:"shutdown_grace_period_sec"`
}

type TelegramConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Token     string  `yaml:"token"`
	ChatIDs   []int64 `yaml:"chat_ids"`
	QueueSize int     `yaml:"queue_size"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
	File     string `yaml:"file"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// PairConfig seeds a trading pair at boot. Pairs already stored are left untouched.
type PairConfig struct {
	Symbol                  string          `yaml:"symbol"`
	StartPrice              decimal.Decimal `yaml:"start_price"`
	GridLevelPercentage     decimal.Decimal `yaml:"grid_level_percentage"`
	LongStopLossPercentage  decimal.Decimal `yaml:"long_stop_loss_percentage"`
	ShortStopLossPercentage decimal.Decimal `yaml:"short_stop_loss_percentage"`
	PositionNotional        decimal.Decimal `yaml:"position_notional"`
	Active                  bool            `yaml:"active"`
}

// Load reads the YAML file at path. Variables from .env (when present) and the process
// environment are substituted for ${VAR} references before decoding.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(raw))))
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies defaults and rejects values the bot cannot run with.
func (c *Config) Validate() error {
	c.Exchange.Name = strings.ToLower(c.Exchange.Name)
	if c.Exchange.Name == "" {
		c.Exchange.Name = "binance"
	}
	if c.Exchange.Name != "binance" && c.Exchange.Name != "bybit" {
		return fmt.Errorf("unsupported exchange %q", c.Exchange.Name)
	}
	if c.Exchange.QuoteAsset == "" {
		c.Exchange.QuoteAsset = "USDT"
	}
	if c.Exchange.HedgeCheckSymbol == "" {
		c.Exchange.HedgeCheckSymbol = "BTCUSDT"
	}
	if c.Exchange.FillPollAttempts <= 0 {
		c.Exchange.FillPollAttempts = 10
	}
	if c.Exchange.FillPollDelayMs <= 0 {
		c.Exchange.FillPollDelayMs = 500
	}

	if c.Trading.PollIntervalMs <= 0 {
		c.Trading.PollIntervalMs = 500
	}
	if c.Trading.InstrumentsRefreshMin <= 0 {
		c.Trading.InstrumentsRefreshMin = 60
	}
	if c.Trading.ShutdownGracePeriodSec <= 0 {
		c.Trading.ShutdownGracePeriodSec = 30
	}

	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return errors.New("telegram.token is required when telegram is enabled")
		}
		if len(c.Telegram.ChatIDs) == 0 {
			return errors.New("telegram.chat_ids is required when telegram is enabled")
		}
	}
	if c.Telegram.QueueSize <= 0 {
		c.Telegram.QueueSize = 100
	}

	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "grid_bot.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	seen := make(map[string]bool, len(c.Pairs))
	for i := range c.Pairs {
		p := &c.Pairs[i]
		p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
		if seen[p.Symbol] {
			return fmt.Errorf("pair %s listed twice", p.Symbol)
		}
		seen[p.Symbol] = true
		if err := p.TradingPair().Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trading.PollIntervalMs) * time.Millisecond
}

func (c *Config) InstrumentsRefreshInterval() time.Duration {
	return time.Duration(c.Trading.InstrumentsRefreshMin) * time.Minute
}

func (c *Config) ShutdownGracePeriod() time.Duration {
	return time.Duration(c.Trading.ShutdownGracePeriodSec) * time.Second
}

func (c *ExchangeConfig) FillPollDelay() time.Duration {
	return time.Duration(c.FillPollDelayMs) * time.Millisecond
}

// TradingPair converts the seed into a domain pair.
func (p PairConfig) TradingPair() *domain.TradingPair {
	return &domain.TradingPair{
		Symbol:                  p.Symbol,
		StartPrice:              p.StartPrice,
		GridLevelPercentage:     p.GridLevelPercentage,
		LongStopLossPercentage:  p.LongStopLossPercentage,
		ShortStopLossPercentage: p.ShortStopLossPercentage,
		PositionNotional:        p.PositionNotional,
		Active:                  p.Active,
	}
}
