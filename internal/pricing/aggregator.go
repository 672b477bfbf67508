package pricing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crossarb/internal/config"
	"crossarb/internal/exchange"
	"crossarb/internal/model"
)

// Aggregator polls both exchanges, normalizes quotes into the shared cache,
// and maintains the tracked universe: symbols quoted on both venues with a
// price below the configured ceiling on at least one of them.
type Aggregator struct {
	logger  *slog.Logger
	clients []exchange.Client
	cache   QuoteCache
	cfg     config.ArbitrageConfig

	mu      sync.RWMutex
	latest  map[string]map[string]model.PriceQuote // exchange -> symbol -> last known quote
	tracked map[string]struct{}

	refreshed chan struct{}
}

// NewAggregator creates a price aggregator over the given exchange clients.
func NewAggregator(logger *slog.Logger, clients []exchange.Client, cache QuoteCache, cfg config.ArbitrageConfig) *Aggregator {
	latest := make(map[string]map[string]model.PriceQuote, len(clients))
	for _, c := range clients {
		latest[c.Name()] = make(map[string]model.PriceQuote)
	}
	return &Aggregator{
		logger:    logger.With(slog.String("component", "aggregator")),
		clients:   clients,
		cache:     cache,
		cfg:       cfg,
		latest:    latest,
		tracked:   make(map[string]struct{}),
		refreshed: make(chan struct{}, 1),
	}
}

// Refreshed signals after every completed refresh. The detection loop
// consumes it; the channel never blocks the aggregator.
func (a *Aggregator) Refreshed() <-chan struct{} {
	return a.refreshed
}

// Run polls at the configured interval until the context is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	a.Refresh(ctx)
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("aggregator: shutting down")
			return
		case <-ticker.C:
			a.Refresh(ctx)
		}
	}
}

// Refresh fetches current quotes from every exchange, recomputes the tracked
// universe, and updates the shared cache. A failed fetch keeps the exchange's
// last known quotes; staleness is judged later from ObservedAt.
func (a *Aggregator) Refresh(ctx context.Context) {
	for _, client := range a.clients {
		quotes, err := client.GetQuotes(ctx)
		if err != nil {
			a.logger.Warn("quote refresh failed, keeping stale quotes",
				"exchange", client.Name(), "error", err)
			continue
		}
		a.mu.Lock()
		for _, q := range quotes {
			if !a.allowed(q.Symbol) {
				continue
			}
			a.latest[client.Name()][q.Symbol] = q
		}
		a.mu.Unlock()
	}

	a.retrack(ctx)

	select {
	case a.refreshed <- struct{}{}:
	default:
	}
}

// allowed applies the configured symbol whitelist, when one is set.
func (a *Aggregator) allowed(symbol string) bool {
	if len(a.cfg.Symbols) == 0 {
		return true
	}
	for _, s := range a.cfg.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// retrack rebuilds the tracked set and pushes tracked quotes to the cache.
// A symbol is tracked while both venues quote it and at least one quote is
// below the price ceiling; once both cross back above it is dropped.
func (a *Aggregator) retrack(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.clients) < 2 {
		return
	}
	first := a.latest[a.clients[0].Name()]
	second := a.latest[a.clients[1].Name()]

	tracked := make(map[string]struct{})
	for symbol, qa := range first {
		qb, ok := second[symbol]
		if !ok {
			continue
		}
		if qa.Ask >= a.cfg.PriceCeiling && qb.Ask >= a.cfg.PriceCeiling {
			continue
		}
		tracked[symbol] = struct{}{}
		for _, q := range []model.PriceQuote{qa, qb} {
			if err := a.cache.Put(ctx, q); err != nil {
				a.logger.Warn("failed to cache quote", "exchange", q.Exchange, "symbol", q.Symbol, "error", err)
			}
		}
	}
	a.tracked = tracked
}

// StartStreams attaches push quote feeds for every client that supports one.
// Streamed quotes update the same maps and cache as the polling cycle.
func (a *Aggregator) StartStreams(ctx context.Context) {
	for _, client := range a.clients {
		streamer, ok := client.(exchange.QuoteStreamer)
		if !ok {
			continue
		}
		quotes := make(chan model.PriceQuote, 256)
		go func(name string) {
			if err := streamer.StartStream(ctx, quotes); err != nil {
				a.logger.Error("quote stream terminated", "exchange", name, "error", err)
			}
		}(client.Name())
		go a.consumeStream(ctx, client.Name(), quotes)
	}
}

func (a *Aggregator) consumeStream(ctx context.Context, name string, quotes <-chan model.PriceQuote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-quotes:
			if !a.allowed(q.Symbol) {
				continue
			}
			a.mu.Lock()
			a.latest[name][q.Symbol] = q
			_, isTracked := a.tracked[q.Symbol]
			a.mu.Unlock()
			if isTracked {
				if err := a.cache.Put(ctx, q); err != nil {
					a.logger.Warn("failed to cache streamed quote", "exchange", name, "symbol", q.Symbol, "error", err)
				}
			}
		}
	}
}

// Snapshot returns, for every tracked symbol, the pair of quotes that are
// fresh on both exchanges. Symbols stale beyond the freshness threshold on
// either venue are excluded from detection.
func (a *Aggregator) Snapshot(ctx context.Context) map[string][2]model.PriceQuote {
	a.mu.RLock()
	symbols := make([]string, 0, len(a.tracked))
	for s := range a.tracked {
		symbols = append(symbols, s)
	}
	a.mu.RUnlock()

	now := time.Now()
	pairs := make(map[string][2]model.PriceQuote, len(symbols))
	for _, symbol := range symbols {
		qa, err := a.cache.Get(ctx, a.clients[0].Name(), symbol)
		if err != nil {
			continue
		}
		qb, err := a.cache.Get(ctx, a.clients[1].Name(), symbol)
		if err != nil {
			continue
		}
		if qa.Age(now) > a.cfg.QuoteFreshness || qb.Age(now) > a.cfg.QuoteFreshness {
			continue
		}
		pairs[symbol] = [2]model.PriceQuote{qa, qb}
	}
	return pairs
}
