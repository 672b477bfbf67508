package config

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Arbitrage ArbitrageConfig           `mapstructure:"arbitrage"`
	Exchanges map[string]ExchangeConfig `mapstructure:"exchanges"`
	TradeLog  TradeLogConfig            `mapstructure:"trade_log"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Server    ServerConfig              `mapstructure:"server"`
}

// ArbitrageConfig defines the detection and execution settings.
type ArbitrageConfig struct {
	// Symbols restricts the tracked universe. Empty means discover every
	// symbol quoted below the price ceiling on either exchange.
	Symbols             []string      `mapstructure:"symbols"`
	PriceCeiling        float64       `mapstructure:"price_ceiling"`
	MinProfitThreshold  float64       `mapstructure:"min_profit_threshold"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	BalanceRefresh      time.Duration `mapstructure:"balance_refresh"`
	QuoteFreshness      time.Duration `mapstructure:"quote_freshness"`
	FillTolerance       float64       `mapstructure:"fill_tolerance"`
	LegWaitTimeout      time.Duration `mapstructure:"leg_wait_timeout"`
	TradeCooldown       time.Duration `mapstructure:"trade_cooldown"`
	MaxConcurrentTrades int           `mapstructure:"max_concurrent_trades"`
	SizeBrackets        []SizeBracket `mapstructure:"size_brackets"`
	QuoteAsset          string        `mapstructure:"quote_asset"`
	// UseStream enables push quote feeds for exchanges that support them,
	// on top of the regular polling cycle.
	UseStream bool `mapstructure:"use_stream"`
}

// SizeBracket maps a price range to a fixed trade quantity. MinPrice is
// inclusive, MaxPrice exclusive; MaxPrice of 0 means unbounded.
type SizeBracket struct {
	MinPrice float64 `mapstructure:"min_price"`
	MaxPrice float64 `mapstructure:"max_price"`
	Quantity float64 `mapstructure:"quantity"`
}

// ExchangeConfig defines settings for a specific exchange.
type ExchangeConfig struct {
	TakerFeeRate float64 `mapstructure:"taker_fee_rate"`
	APIKey       string  `mapstructure:"api_key"`
	APISecret    string  `mapstructure:"api_secret"`
	Passphrase   string  `mapstructure:"passphrase"`
	BaseURL      string  `mapstructure:"base_url"`
	DemoTrading  bool    `mapstructure:"demo_trading"`
}

// TradeLogConfig defines where trade attempts are recorded.
type TradeLogConfig struct {
	Path        string `mapstructure:"path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// CacheConfig selects the shared quote cache backend. An empty RedisAddr
// keeps the in-memory cache.
type CacheConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
}

// ServerConfig defines the HTTP API settings.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

func setDefaults() {
	viper.SetDefault("arbitrage.price_ceiling", 5.0)
	viper.SetDefault("arbitrage.min_profit_threshold", 0.09)
	viper.SetDefault("arbitrage.poll_interval", "10s")
	viper.SetDefault("arbitrage.balance_refresh", "30s")
	viper.SetDefault("arbitrage.quote_freshness", "30s")
	viper.SetDefault("arbitrage.fill_tolerance", 0.95)
	viper.SetDefault("arbitrage.leg_wait_timeout", "10s")
	viper.SetDefault("arbitrage.trade_cooldown", "60s")
	viper.SetDefault("arbitrage.max_concurrent_trades", 3)
	viper.SetDefault("arbitrage.quote_asset", "USDT")
	viper.SetDefault("trade_log.path", "trade_log.jsonl")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("exchanges.binance.taker_fee_rate", 0.001)
	viper.SetDefault("exchanges.okx.taker_fee_rate", 0.001)
}

// DefaultSizeBrackets is the built-in trade-amount policy, applied when the
// config file does not override it.
func DefaultSizeBrackets() []SizeBracket {
	return []SizeBracket{
		{MinPrice: 0, MaxPrice: 0.5, Quantity: 15},
		{MinPrice: 0.5, MaxPrice: 1, Quantity: 8},
		{MinPrice: 1, MaxPrice: 3.5, Quantity: 4},
		{MinPrice: 3.5, MaxPrice: 0, Quantity: 1},
	}
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is fine; defaults apply. Malformed size brackets are
// a fatal configuration error.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err = viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if len(config.Arbitrage.SizeBrackets) == 0 {
		config.Arbitrage.SizeBrackets = DefaultSizeBrackets()
	}
	err = ValidateBrackets(config.Arbitrage.SizeBrackets)
	return
}

// ValidateBrackets checks that the sizing brackets are exhaustive and
// non-overlapping over (0, +inf).
func ValidateBrackets(brackets []SizeBracket) error {
	if len(brackets) == 0 {
		return fmt.Errorf("size brackets: none configured")
	}

	sorted := make([]SizeBracket, len(brackets))
	copy(sorted, brackets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinPrice < sorted[j].MinPrice })

	if sorted[0].MinPrice != 0 {
		return fmt.Errorf("size brackets: gap below %v", sorted[0].MinPrice)
	}
	for i, b := range sorted {
		if b.Quantity <= 0 {
			return fmt.Errorf("size brackets: non-positive quantity %v for [%v, %v)", b.Quantity, b.MinPrice, b.MaxPrice)
		}
		max := b.MaxPrice
		if max == 0 {
			max = math.Inf(1)
		}
		if max <= b.MinPrice {
			return fmt.Errorf("size brackets: empty range [%v, %v)", b.MinPrice, b.MaxPrice)
		}
		if i == len(sorted)-1 {
			if !math.IsInf(max, 1) {
				return fmt.Errorf("size brackets: gap above %v", b.MaxPrice)
			}
			continue
		}
		if max != sorted[i+1].MinPrice {
			return fmt.Errorf("size brackets: ranges [%v, %v) and [%v, ...) do not meet", b.MinPrice, b.MaxPrice, sorted[i+1].MinPrice)
		}
	}
	return nil
}
