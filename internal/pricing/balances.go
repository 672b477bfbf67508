package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crossarb/internal/exchange"
	"crossarb/internal/model"
)

// BalanceTracker caches available balances per (exchange, asset). It is
// advisory only: the exchange decides at order time whether funds suffice.
type BalanceTracker struct {
	logger   *slog.Logger
	clients  map[string]exchange.Client
	interval time.Duration

	mu       sync.RWMutex
	balances map[string]model.Balance
}

// NewBalanceTracker creates a balance tracker over the given clients.
// The quote asset is registered for every exchange up front.
func NewBalanceTracker(logger *slog.Logger, clients []exchange.Client, quoteAsset string, interval time.Duration) *BalanceTracker {
	byName := make(map[string]exchange.Client, len(clients))
	balances := make(map[string]model.Balance)
	for _, c := range clients {
		byName[c.Name()] = c
		balances[balanceKey(c.Name(), quoteAsset)] = model.Balance{Exchange: c.Name(), Asset: quoteAsset}
	}
	return &BalanceTracker{
		logger:   logger.With(slog.String("component", "balances")),
		clients:  byName,
		interval: interval,
		balances: balances,
	}
}

func balanceKey(exchange, asset string) string {
	return exchange + ":" + asset
}

// Run refreshes all registered balances on a timer until the context is
// cancelled. Safe to run concurrently with trade execution.
func (t *BalanceTracker) Run(ctx context.Context) {
	t.RefreshAll(ctx)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("balance tracker: shutting down")
			return
		case <-ticker.C:
			t.RefreshAll(ctx)
		}
	}
}

// RefreshAll re-fetches every (exchange, asset) pair seen so far. Idempotent;
// a failed fetch keeps the previous cached value.
func (t *BalanceTracker) RefreshAll(ctx context.Context) {
	t.mu.RLock()
	keys := make([]model.Balance, 0, len(t.balances))
	for _, b := range t.balances {
		keys = append(keys, b)
	}
	t.mu.RUnlock()

	for _, b := range keys {
		if _, err := t.Refresh(ctx, b.Exchange, b.Asset); err != nil {
			t.logger.Warn("balance refresh failed", "exchange", b.Exchange, "asset", b.Asset, "error", err)
		}
	}
}

// Refresh fetches one balance from the exchange and caches it.
func (t *BalanceTracker) Refresh(ctx context.Context, exchangeName, asset string) (model.Balance, error) {
	client, ok := t.clients[exchangeName]
	if !ok {
		return model.Balance{}, fmt.Errorf("unknown exchange: %s", exchangeName)
	}
	balance, err := client.GetBalance(ctx, asset)
	if err != nil {
		return model.Balance{}, err
	}
	t.mu.Lock()
	t.balances[balanceKey(exchangeName, asset)] = balance
	t.mu.Unlock()
	return balance, nil
}

// Get returns the cached balance, fetching it once if the pair has never
// been seen. The cached value may lag reality by up to one refresh interval.
func (t *BalanceTracker) Get(ctx context.Context, exchangeName, asset string) (model.Balance, error) {
	t.mu.RLock()
	balance, ok := t.balances[balanceKey(exchangeName, asset)]
	t.mu.RUnlock()
	if ok && !balance.UpdatedAt.IsZero() {
		return balance, nil
	}
	return t.Refresh(ctx, exchangeName, asset)
}

// All returns a snapshot of every cached balance.
func (t *BalanceTracker) All() []model.Balance {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Balance, 0, len(t.balances))
	for _, b := range t.balances {
		out = append(out, b)
	}
	return out
}
