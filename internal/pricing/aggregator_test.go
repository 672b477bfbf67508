package pricing

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossarb/internal/config"
	"crossarb/internal/exchange"
	"crossarb/internal/model"
)

type fakeClient struct {
	name string

	mu     sync.Mutex
	quotes []model.PriceQuote
	err    error
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) set(quotes []model.PriceQuote, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes = quotes
	f.err = err
}

func (f *fakeClient) GetQuotes(context.Context) ([]model.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.PriceQuote, len(f.quotes))
	copy(out, f.quotes)
	return out, nil
}

func (f *fakeClient) GetQuote(_ context.Context, symbol string) (model.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.quotes {
		if q.Symbol == symbol {
			return q, nil
		}
	}
	return model.PriceQuote{}, model.ErrQuoteUnavailable
}

func (f *fakeClient) GetBalance(_ context.Context, asset string) (model.Balance, error) {
	return model.Balance{Exchange: f.name, Asset: asset, Available: 100, UpdatedAt: time.Now()}, nil
}

func (f *fakeClient) PlaceMarketOrder(context.Context, string, model.OrderSide, float64) (model.OrderResult, error) {
	return model.OrderResult{}, model.ErrOrderRejected
}

func quote(exchangeName, symbol string, bid, ask float64, at time.Time) model.PriceQuote {
	return model.PriceQuote{Exchange: exchangeName, Symbol: symbol, Bid: bid, Ask: ask, ObservedAt: at}
}

func TestAggregator_TracksUniverseBelowCeiling(t *testing.T) {
	a := &fakeClient{name: "binance"}
	b := &fakeClient{name: "okx"}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.ArbitrageConfig{PriceCeiling: 5.0, QuoteFreshness: time.Minute, PollInterval: time.Second}
	agg := NewAggregator(logger, []exchange.Client{a, b}, NewMemoryCache(), cfg)

	now := time.Now()
	a.set([]model.PriceQuote{
		quote("binance", "DOGE", 0.99, 1.00, now),
		quote("binance", "BTC", 59999, 60000, now),
		quote("binance", "ONLYHERE", 0.10, 0.11, now),
	}, nil)
	b.set([]model.PriceQuote{
		quote("okx", "DOGE", 1.12, 1.13, now),
		quote("okx", "BTC", 60100, 60200, now),
	}, nil)

	ctx := context.Background()
	agg.Refresh(ctx)

	pairs := agg.Snapshot(ctx)
	require.Len(t, pairs, 1, "only symbols on both venues under the ceiling are tracked")
	pair, ok := pairs["DOGE"]
	require.True(t, ok)
	assert.Equal(t, "binance", pair[0].Exchange)
	assert.Equal(t, "okx", pair[1].Exchange)

	// Refresh signal fires for the detection loop.
	select {
	case <-agg.Refreshed():
	default:
		t.Fatal("expected a refresh signal")
	}
}

func TestAggregator_DropsSymbolCrossingCeiling(t *testing.T) {
	a := &fakeClient{name: "binance"}
	b := &fakeClient{name: "okx"}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.ArbitrageConfig{PriceCeiling: 5.0, QuoteFreshness: time.Minute, PollInterval: time.Second}
	agg := NewAggregator(logger, []exchange.Client{a, b}, NewMemoryCache(), cfg)

	ctx := context.Background()
	now := time.Now()
	a.set([]model.PriceQuote{quote("binance", "SOL", 4.90, 4.95, now)}, nil)
	b.set([]model.PriceQuote{quote("okx", "SOL", 4.91, 4.96, now)}, nil)
	agg.Refresh(ctx)
	require.Contains(t, agg.Snapshot(ctx), "SOL")

	// Next refresh: both venues above the ceiling, symbol dropped.
	later := now.Add(time.Second)
	a.set([]model.PriceQuote{quote("binance", "SOL", 5.10, 5.15, later)}, nil)
	b.set([]model.PriceQuote{quote("okx", "SOL", 5.11, 5.16, later)}, nil)
	agg.Refresh(ctx)
	assert.NotContains(t, agg.Snapshot(ctx), "SOL")
}

func TestAggregator_KeepsStaleQuoteOnFetchFailure(t *testing.T) {
	a := &fakeClient{name: "binance"}
	b := &fakeClient{name: "okx"}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.ArbitrageConfig{PriceCeiling: 5.0, QuoteFreshness: time.Minute, PollInterval: time.Second}
	agg := NewAggregator(logger, []exchange.Client{a, b}, NewMemoryCache(), cfg)

	ctx := context.Background()
	now := time.Now()
	a.set([]model.PriceQuote{quote("binance", "DOGE", 0.99, 1.00, now)}, nil)
	b.set([]model.PriceQuote{quote("okx", "DOGE", 1.12, 1.13, now)}, nil)
	agg.Refresh(ctx)
	require.Contains(t, agg.Snapshot(ctx), "DOGE")

	// One venue goes dark: the last-known quote is retained while fresh.
	a.set(nil, model.ErrExchangeUnreachable)
	agg.Refresh(ctx)
	assert.Contains(t, agg.Snapshot(ctx), "DOGE")
}

func TestAggregator_ExcludesQuotesStaleBeyondThreshold(t *testing.T) {
	a := &fakeClient{name: "binance"}
	b := &fakeClient{name: "okx"}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.ArbitrageConfig{PriceCeiling: 5.0, QuoteFreshness: 30 * time.Second, PollInterval: time.Second}
	agg := NewAggregator(logger, []exchange.Client{a, b}, NewMemoryCache(), cfg)

	ctx := context.Background()
	now := time.Now()
	a.set([]model.PriceQuote{quote("binance", "DOGE", 0.99, 1.00, now.Add(-time.Minute))}, nil)
	b.set([]model.PriceQuote{quote("okx", "DOGE", 1.12, 1.13, now)}, nil)
	agg.Refresh(ctx)

	assert.Empty(t, agg.Snapshot(ctx), "a stale quote on either venue excludes the symbol")
}

func TestAggregator_AppliesSymbolWhitelist(t *testing.T) {
	a := &fakeClient{name: "binance"}
	b := &fakeClient{name: "okx"}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.ArbitrageConfig{
		PriceCeiling:   5.0,
		QuoteFreshness: time.Minute,
		PollInterval:   time.Second,
		Symbols:        []string{"DOGE"},
	}
	agg := NewAggregator(logger, []exchange.Client{a, b}, NewMemoryCache(), cfg)

	ctx := context.Background()
	now := time.Now()
	a.set([]model.PriceQuote{
		quote("binance", "DOGE", 0.99, 1.00, now),
		quote("binance", "PEPE", 0.10, 0.11, now),
	}, nil)
	b.set([]model.PriceQuote{
		quote("okx", "DOGE", 1.12, 1.13, now),
		quote("okx", "PEPE", 0.12, 0.13, now),
	}, nil)
	agg.Refresh(ctx)

	pairs := agg.Snapshot(ctx)
	assert.Contains(t, pairs, "DOGE")
	assert.NotContains(t, pairs, "PEPE")
}

func TestMemoryCache_PutGet(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	_, err := cache.Get(ctx, "binance", "DOGE")
	assert.ErrorIs(t, err, model.ErrQuoteUnavailable)

	q := quote("binance", "DOGE", 0.99, 1.00, time.Now())
	require.NoError(t, cache.Put(ctx, q))
	got, err := cache.Get(ctx, "binance", "DOGE")
	require.NoError(t, err)
	assert.Equal(t, q, got)
}
