// Package app wires the trading core together: exchange clients, quote
// cache, aggregator, detector, execution engine, trade log, and the operator
// HTTP API, each running as an independent goroutine. Polling and detection
// never block on executions; executions run on their own goroutines.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"crossarb/internal/arbitrage"
	"crossarb/internal/config"
	"crossarb/internal/engine"
	"crossarb/internal/exchange"
	"crossarb/internal/pricing"
	"crossarb/internal/server"
	"crossarb/internal/tradelog"
)

// App owns the configuration, logger, and cleanup functions, called in
// reverse order on shutdown.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run wires all dependencies, starts the loops, and blocks until the context
// is cancelled. A single failed trade never terminates the engine; only
// wiring errors are returned.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	clients, err := a.buildClients()
	if err != nil {
		return err
	}

	cache, err := a.buildCache(ctx)
	if err != nil {
		return err
	}

	log, err := a.buildTradeLog(ctx)
	if err != nil {
		return err
	}

	arb := a.cfg.Arbitrage
	aggregator := pricing.NewAggregator(a.logger, clients, cache, arb)
	balances := pricing.NewBalanceTracker(a.logger, clients, arb.QuoteAsset, arb.BalanceRefresh)

	sizer, err := arbitrage.NewSizer(arb.SizeBrackets)
	if err != nil {
		return fmt.Errorf("sizing policy: %w", err)
	}
	feeRates := make(map[string]float64, len(a.cfg.Exchanges))
	for name, ex := range a.cfg.Exchanges {
		feeRates[name] = ex.TakerFeeRate
	}
	detector := arbitrage.NewDetector(a.logger, sizer, feeRates, arb.MinProfitThreshold)
	book := arbitrage.NewBook()

	state := engine.NewState()
	eng := engine.New(a.logger, state, clients, balances, log, arb)

	handler := server.NewHandler(eng, state, book, log, aggregator, balances, a.logger)
	srv := server.New(a.cfg.Server.Port, handler, a.logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		aggregator.Run(ctx)
	}()
	if arb.UseStream {
		aggregator.StartStreams(ctx)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		balances.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.detectLoop(ctx, aggregator, detector, book, state, eng)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	a.logger.Info("engine started",
		"exchanges", len(clients),
		"pollInterval", arb.PollInterval,
		"minProfitThreshold", arb.MinProfitThreshold,
	)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", "error", err)
	}
	wg.Wait()
	return nil
}

// detectLoop consumes refresh signals and replaces the opportunity book each
// cycle. Auto trades run on their own goroutine so detection keeps pace with
// the price feed.
func (a *App) detectLoop(ctx context.Context, aggregator *pricing.Aggregator, detector *arbitrage.Detector, book *arbitrage.Book, state *engine.State, eng *engine.Engine) {
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("detection loop: shutting down")
			return
		case <-aggregator.Refreshed():
			pairs := aggregator.Snapshot(ctx)
			opportunities := detector.Detect(pairs, time.Now())
			for i := range opportunities {
				opportunities[i].InCooldown = state.InCooldown(opportunities[i].Symbol)
			}
			book.Replace(opportunities)
			if len(opportunities) > 0 {
				a.logger.Debug("detection cycle complete",
					"tracked", len(pairs), "opportunities", len(opportunities))
				go eng.AutoTrade(ctx, opportunities)
			}
		}
	}
}

// buildClients creates the two venue clients. Exactly two exchanges are
// supported; anything else is a configuration error.
func (a *App) buildClients() ([]exchange.Client, error) {
	names := make([]string, 0, len(a.cfg.Exchanges))
	for name := range a.cfg.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) != 2 {
		return nil, fmt.Errorf("exactly two exchanges required, got %d", len(names))
	}

	clients := make([]exchange.Client, 0, len(names))
	for _, name := range names {
		client, err := exchange.NewClient(name, a.logger, a.cfg.Exchanges[name], a.cfg.Arbitrage.QuoteAsset)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func (a *App) buildCache(ctx context.Context) (pricing.QuoteCache, error) {
	if a.cfg.Cache.RedisAddr == "" {
		return pricing.NewMemoryCache(), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: a.cfg.Cache.RedisAddr, DB: a.cfg.Cache.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	// Let entries outlive a couple of missed polls before expiring.
	return pricing.NewRedisCache(rdb, 4*a.cfg.Arbitrage.QuoteFreshness), nil
}

func (a *App) buildTradeLog(ctx context.Context) (tradelog.Log, error) {
	jsonl := tradelog.NewJSONL(a.cfg.TradeLog.Path)
	a.closers = append(a.closers, func() { _ = jsonl.Close() })
	if a.cfg.TradeLog.PostgresDSN == "" {
		return jsonl, nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.TradeLog.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	pg := tradelog.NewPostgresLog(pool)
	if err := pg.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return tradelog.NewMulti(pg, jsonl), nil
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
