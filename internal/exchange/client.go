package exchange

import (
	"context"

	"crossarb/internal/model"
)

// Client defines the standard interface for all exchange clients. Symbols are
// base-coin names ("DOGE"); each client maps them to its own instrument
// naming against the configured quote asset.
type Client interface {
	Name() string

	// GetQuote fetches the current best bid/ask for one symbol.
	GetQuote(ctx context.Context, symbol string) (model.PriceQuote, error)

	// GetQuotes fetches the current best bid/ask for every spot instrument
	// quoted in the quote asset. Used for universe discovery and bulk polling.
	GetQuotes(ctx context.Context) ([]model.PriceQuote, error)

	// GetBalance fetches the available amount of one asset.
	GetBalance(ctx context.Context, asset string) (model.Balance, error)

	// PlaceMarketOrder places a market order and reports the fill. The
	// exchange, not the caller's cached balance, decides whether it fills.
	PlaceMarketOrder(ctx context.Context, symbol string, side model.OrderSide, quantity float64) (model.OrderResult, error)
}

// QuoteStreamer is implemented by clients that can push quotes instead of
// being polled. The aggregator uses it when available.
type QuoteStreamer interface {
	StartStream(ctx context.Context, quotes chan<- model.PriceQuote) error
}
