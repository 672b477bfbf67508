package pricing

import (
	"context"
	"fmt"
	"sync"

	"crossarb/internal/model"
)

// QuoteCache stores the latest quote per (exchange, symbol). The aggregator
// is the single writer; detection reads eventually-consistent snapshots.
type QuoteCache interface {
	Put(ctx context.Context, quote model.PriceQuote) error
	// Get returns the latest quote, or an error wrapping
	// model.ErrQuoteUnavailable when none has been stored.
	Get(ctx context.Context, exchange, symbol string) (model.PriceQuote, error)
}

// MemoryCache is the default in-process quote cache.
type MemoryCache struct {
	mu     sync.RWMutex
	quotes map[string]model.PriceQuote
}

// NewMemoryCache creates an empty in-memory quote cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{quotes: make(map[string]model.PriceQuote)}
}

func quoteKey(exchange, symbol string) string {
	return exchange + ":" + symbol
}

func (c *MemoryCache) Put(_ context.Context, quote model.PriceQuote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[quoteKey(quote.Exchange, quote.Symbol)] = quote
	return nil
}

func (c *MemoryCache) Get(_ context.Context, exchange, symbol string) (model.PriceQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[quoteKey(exchange, symbol)]
	if !ok {
		return model.PriceQuote{}, fmt.Errorf("%w: %s on %s", model.ErrQuoteUnavailable, symbol, exchange)
	}
	return q, nil
}
