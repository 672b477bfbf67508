package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"crossarb/internal/config"
	"crossarb/internal/exchange"
	"crossarb/internal/model"
)

// BalanceSource is the advisory balance view the engine consults before
// reserving a symbol. The exchange stays authoritative at order time.
type BalanceSource interface {
	Get(ctx context.Context, exchangeName, asset string) (model.Balance, error)
	Refresh(ctx context.Context, exchangeName, asset string) (model.Balance, error)
}

// Recorder appends finished trade attempts to the trade log.
type Recorder interface {
	Record(ctx context.Context, attempt model.TradeAttempt) error
}

// Engine executes arbitrage trades: it serializes access per symbol, places
// the buy leg then the sell leg, and records every attempt. A failed sell
// leg after a filled buy leg is surfaced as an exposed position; the engine
// never unwinds it.
type Engine struct {
	logger   *slog.Logger
	state    *State
	clients  map[string]exchange.Client
	balances BalanceSource
	recorder Recorder
	cfg      config.ArbitrageConfig
}

// New creates an execution engine over the given clients and shared state.
func New(logger *slog.Logger, state *State, clients []exchange.Client, balances BalanceSource, recorder Recorder, cfg config.ArbitrageConfig) *Engine {
	byName := make(map[string]exchange.Client, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	return &Engine{
		logger:   logger.With(slog.String("component", "engine")),
		state:    state,
		clients:  byName,
		balances: balances,
		recorder: recorder,
		cfg:      cfg,
	}
}

// State exposes the shared engine state (auto-trading flag, in-flight set).
func (e *Engine) State() *State {
	return e.state
}

// AutoTrade executes the most profitable opportunity that is not in cooldown
// and not already in flight, provided auto-trading is enabled and the
// concurrent-trade cap leaves room. Called once per detection cycle from its
// own goroutine so detection never blocks on execution.
func (e *Engine) AutoTrade(ctx context.Context, opportunities []model.Opportunity) {
	if !e.state.AutoTradingEnabled() {
		return
	}
	if e.cfg.MaxConcurrentTrades > 0 && e.state.InFlightCount() >= e.cfg.MaxConcurrentTrades {
		return
	}
	for _, opp := range opportunities {
		if e.state.InCooldown(opp.Symbol) || e.state.IsInFlight(opp.Symbol) {
			continue
		}
		e.logger.Info("auto-trade executing opportunity",
			"symbol", opp.Symbol, "netProfit", opp.NetProfit)
		if _, err := e.Execute(ctx, opp, model.TriggerAuto); err != nil && !errors.Is(err, model.ErrDuplicateReservation) {
			e.logger.Error("auto-trade failed", "symbol", opp.Symbol, "error", err)
		}
		return
	}
}

// Execute runs one trade attempt through the state machine. Manual triggers
// bypass the auto-trading flag and cooldowns but go through the same
// reservation path. The returned attempt is always recorded; the error
// classifies the failure for the caller.
func (e *Engine) Execute(ctx context.Context, opp model.Opportunity, trigger model.Trigger) (model.TradeAttempt, error) {
	attempt := model.TradeAttempt{
		ID:          uuid.NewString(),
		Opportunity: opp,
		Trigger:     trigger,
		Status:      model.AttemptPending,
		StartedAt:   time.Now(),
	}

	// Advisory pre-check before reserving. An unreadable balance is not a
	// reason to skip; the order placement will decide.
	if err := e.checkBalances(ctx, opp); err != nil {
		attempt.Status = model.AttemptSkipped
		attempt.Error = err.Error()
		attempt.CompletedAt = time.Now()
		e.logger.Info("trade skipped", "symbol", opp.Symbol, "reason", err)
		e.record(ctx, attempt)
		return attempt, err
	}

	// IDLE -> RESERVED, or ABORTED on duplicate. Expected contention when a
	// manual click races an auto-trade tick.
	if !e.state.Reserve(opp.Symbol) {
		attempt.Status = model.AttemptSkipped
		attempt.Error = model.ErrDuplicateReservation.Error()
		attempt.CompletedAt = time.Now()
		e.logger.Info("trade skipped, symbol already in flight", "symbol", opp.Symbol, "trigger", trigger)
		e.record(ctx, attempt)
		return attempt, model.ErrDuplicateReservation
	}

	err := e.runLegs(ctx, &attempt)

	// Terminal states release the symbol before the record is finalized.
	e.state.Release(opp.Symbol)
	e.state.StartCooldown(opp.Symbol, e.cfg.TradeCooldown)
	attempt.CompletedAt = time.Now()
	e.record(ctx, attempt)
	e.refreshBalances(ctx, opp)

	if err != nil {
		return attempt, err
	}
	e.logger.Info("trade settled",
		"symbol", opp.Symbol,
		"trigger", trigger,
		"realizedProfit", attempt.RealizedProfit,
	)
	return attempt, nil
}

// runLegs drives RESERVED -> EXECUTING_LEG1 -> EXECUTING_LEG2 -> SETTLED,
// mutating the attempt in place. Any leg error leaves the attempt FAILED.
func (e *Engine) runLegs(ctx context.Context, attempt *model.TradeAttempt) error {
	opp := attempt.Opportunity
	buyClient, ok := e.clients[opp.BuyExchange]
	if !ok {
		attempt.Status = model.AttemptFailed
		attempt.Error = fmt.Sprintf("unknown buy exchange: %s", opp.BuyExchange)
		return errors.New(attempt.Error)
	}
	sellClient, ok := e.clients[opp.SellExchange]
	if !ok {
		attempt.Status = model.AttemptFailed
		attempt.Error = fmt.Sprintf("unknown sell exchange: %s", opp.SellExchange)
		return errors.New(attempt.Error)
	}

	// Leg 1: buy. The engine imposes its own bounded wait; the exchange
	// client is not assumed to time out.
	buyCtx, cancelBuy := context.WithTimeout(ctx, e.cfg.LegWaitTimeout)
	buyResult, err := buyClient.PlaceMarketOrder(buyCtx, opp.Symbol, model.SideBuy, opp.Quantity)
	cancelBuy()
	if buyResult.OrderID != "" || buyResult.FilledQuantity > 0 {
		attempt.BuyResult = &buyResult
	}
	if err != nil {
		attempt.Status = model.AttemptFailed
		attempt.Error = fmt.Sprintf("buy leg: %v", err)
		e.logger.Error("buy leg failed", "symbol", opp.Symbol, "exchange", opp.BuyExchange, "error", err)
		return fmt.Errorf("buy leg: %w", err)
	}
	if buyResult.FilledQuantity < opp.Quantity*e.cfg.FillTolerance {
		attempt.Status = model.AttemptFailed
		attempt.Error = fmt.Sprintf("buy leg: filled %v of %v", buyResult.FilledQuantity, opp.Quantity)
		// A below-tolerance buy fill still leaves inventory to report.
		attempt.ExposedPosition = buyResult.FilledQuantity > 0
		e.logExposure(attempt)
		return fmt.Errorf("buy leg: %w", model.ErrPartialFillBelowTolerance)
	}

	// Leg 2: sell what was actually bought, never before leg 1 confirms.
	sellCtx, cancelSell := context.WithTimeout(ctx, e.cfg.LegWaitTimeout)
	sellResult, err := sellClient.PlaceMarketOrder(sellCtx, opp.Symbol, model.SideSell, buyResult.FilledQuantity)
	cancelSell()
	if sellResult.OrderID != "" || sellResult.FilledQuantity > 0 {
		attempt.SellResult = &sellResult
	}
	if err != nil {
		attempt.Status = model.AttemptFailed
		attempt.Error = fmt.Sprintf("sell leg: %v", err)
		attempt.ExposedPosition = true
		e.logExposure(attempt)
		return fmt.Errorf("sell leg: %w", err)
	}
	if sellResult.FilledQuantity < buyResult.FilledQuantity*e.cfg.FillTolerance {
		attempt.Status = model.AttemptFailed
		attempt.Error = fmt.Sprintf("sell leg: filled %v of %v", sellResult.FilledQuantity, buyResult.FilledQuantity)
		attempt.ExposedPosition = true
		e.logExposure(attempt)
		return fmt.Errorf("sell leg: %w", model.ErrPartialFillBelowTolerance)
	}

	// SETTLED. Realized profit comes from actual fills and reported fees,
	// not the opportunity snapshot.
	attempt.RealizedProfit = sellResult.FilledQuantity*sellResult.AvgFillPrice -
		buyResult.FilledQuantity*buyResult.AvgFillPrice -
		buyResult.FeePaid - sellResult.FeePaid
	if buyResult.Status == model.OrderPartiallyFilled || sellResult.Status == model.OrderPartiallyFilled {
		attempt.Status = model.AttemptPartiallyFilled
	} else {
		attempt.Status = model.AttemptFilled
	}
	return nil
}

// logExposure surfaces an unhedged single-leg position as a high-severity
// entry, distinguishable from ordinary failures. Never silently discarded.
func (e *Engine) logExposure(attempt *model.TradeAttempt) {
	if !attempt.ExposedPosition {
		e.logger.Error("trade failed", "symbol", attempt.Opportunity.Symbol, "error", attempt.Error)
		return
	}
	var bought, sold float64
	if attempt.BuyResult != nil {
		bought = attempt.BuyResult.FilledQuantity
	}
	if attempt.SellResult != nil {
		sold = attempt.SellResult.FilledQuantity
	}
	e.logger.Error("EXPOSED POSITION: buy leg filled but sell leg did not, operator attention required",
		"exposed_position", true,
		"symbol", attempt.Opportunity.Symbol,
		"buyExchange", attempt.Opportunity.BuyExchange,
		"sellExchange", attempt.Opportunity.SellExchange,
		"boughtQuantity", bought,
		"soldQuantity", sold,
		"error", attempt.Error,
	)
}

// checkBalances is the advisory funds pre-check: quote asset on the buy
// venue, the coin itself on the sell venue.
func (e *Engine) checkBalances(ctx context.Context, opp model.Opportunity) error {
	quote, err := e.balances.Get(ctx, opp.BuyExchange, e.cfg.QuoteAsset)
	if err == nil && quote.Available < opp.BuyPrice*opp.Quantity {
		return fmt.Errorf("%w: %v %s available on %s, need %v",
			model.ErrInsufficientBalance, quote.Available, e.cfg.QuoteAsset, opp.BuyExchange, opp.BuyPrice*opp.Quantity)
	}
	coin, err := e.balances.Get(ctx, opp.SellExchange, opp.Symbol)
	if err == nil && coin.Available < opp.Quantity {
		return fmt.Errorf("%w: %v %s available on %s, need %v",
			model.ErrInsufficientBalance, coin.Available, opp.Symbol, opp.SellExchange, opp.Quantity)
	}
	return nil
}

// refreshBalances re-fetches the balances a trade may have moved.
func (e *Engine) refreshBalances(ctx context.Context, opp model.Opportunity) {
	for _, pair := range [][2]string{
		{opp.BuyExchange, e.cfg.QuoteAsset},
		{opp.BuyExchange, opp.Symbol},
		{opp.SellExchange, e.cfg.QuoteAsset},
		{opp.SellExchange, opp.Symbol},
	} {
		if _, err := e.balances.Refresh(ctx, pair[0], pair[1]); err != nil {
			e.logger.Warn("post-trade balance refresh failed", "exchange", pair[0], "asset", pair[1], "error", err)
		}
	}
}

func (e *Engine) record(ctx context.Context, attempt model.TradeAttempt) {
	if err := e.recorder.Record(ctx, attempt); err != nil {
		e.logger.Error("failed to record trade attempt", "attemptID", attempt.ID, "error", err)
	}
}
