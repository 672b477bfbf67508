package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"crossarb/internal/model"
	"crossarb/internal/tradelog"
)

// Trader executes manual trades.
type Trader interface {
	Execute(ctx context.Context, opp model.Opportunity, trigger model.Trigger) (model.TradeAttempt, error)
}

// EngineState is the operator-facing slice of the engine state.
type EngineState interface {
	SetAutoTrading(enabled bool)
	AutoTradingEnabled() bool
}

// OpportunitySource serves the current detection cycle's opportunity set.
type OpportunitySource interface {
	Current() []model.Opportunity
	Get(id string) (model.Opportunity, bool)
}

// TradeLogReader reads the append-only trade log.
type TradeLogReader interface {
	Recent(ctx context.Context, limit int) ([]model.TradeAttempt, error)
}

// PriceSource serves the current tracked quote pairs.
type PriceSource interface {
	Snapshot(ctx context.Context) map[string][2]model.PriceQuote
}

// BalanceView serves the cached balances.
type BalanceView interface {
	All() []model.Balance
}

// Handler serves the operator API.
type Handler struct {
	trader   Trader
	state    EngineState
	opps     OpportunitySource
	trades   TradeLogReader
	prices   PriceSource
	balances BalanceView
	logger   *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(trader Trader, state EngineState, opps OpportunitySource, trades TradeLogReader, prices PriceSource, balances BalanceView, logger *slog.Logger) *Handler {
	return &Handler{
		trader:   trader,
		state:    state,
		opps:     opps,
		trades:   trades,
		prices:   prices,
		balances: balances,
		logger:   logger.With(slog.String("component", "http")),
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) listOpportunities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": h.opps.Current(),
		"auto_trading":  h.state.AutoTradingEnabled(),
		"timestamp":     time.Now(),
	})
}

func (h *Handler) listPrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"prices":    h.prices.Snapshot(r.Context()),
		"timestamp": time.Now(),
	})
}

func (h *Handler) listBalances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"balances":  h.balances.All(),
		"timestamp": time.Now(),
	})
}

type tradeRequest struct {
	OpportunityID string `json:"opportunity_id"`
}

// executeTrade runs a manual trade against an opportunity from the current
// cycle. Manual execution bypasses the auto-trading flag but not the
// per-symbol reservation guard.
func (h *Handler) executeTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OpportunityID == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter: opportunity_id")
		return
	}

	opp, ok := h.opps.Get(req.OpportunityID)
	if !ok {
		writeError(w, http.StatusNotFound, model.ErrOpportunityNotFound.Error())
		return
	}

	attempt, err := h.trader.Execute(r.Context(), opp, model.TriggerManual)
	switch {
	case errors.Is(err, model.ErrDuplicateReservation):
		writeJSON(w, http.StatusConflict, map[string]any{"attempt": attempt, "skipped": true})
		return
	case errors.Is(err, model.ErrInsufficientBalance):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"attempt": attempt, "skipped": true})
		return
	case err != nil:
		h.logger.Error("manual trade failed", "opportunityID", req.OpportunityID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempt": attempt})
}

type autoTradeRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) setAutoTrading(w http.ResponseWriter, r *http.Request) {
	var req autoTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "missing required parameter: enabled")
		return
	}
	h.state.SetAutoTrading(*req.Enabled)
	h.logger.Info("auto-trading toggled", "enabled", *req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"auto_trading": *req.Enabled})
}

func (h *Handler) listTrades(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	attempts, err := h.trades.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to read trade log", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read trade log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": attempts, "timestamp": time.Now()})
}

func (h *Handler) tradeStats(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.trades.Recent(r.Context(), 0)
	if err != nil {
		h.logger.Error("failed to read trade log", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read trade log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"statistics": tradelog.ComputeStats(attempts),
		"timestamp":  time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
