package exchange

import (
	"fmt"
	"log/slog"

	"crossarb/internal/config"
)

// NewClient creates a new exchange client based on the given name and configuration.
func NewClient(name string, logger *slog.Logger, cfg config.ExchangeConfig, quoteAsset string) (Client, error) {
	switch name {
	case "binance":
		return NewBinanceClient(logger, cfg, quoteAsset), nil
	case "okx":
		return NewOKXClient(logger, cfg, quoteAsset), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", name)
	}
}
