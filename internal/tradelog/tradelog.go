// Package tradelog records every trade attempt in an append-only log.
// Records are never mutated or deleted; readers see them newest first.
package tradelog

import (
	"context"

	"crossarb/internal/model"
)

// Log is an append-only trade attempt record.
type Log interface {
	// Record appends one finished attempt.
	Record(ctx context.Context, attempt model.TradeAttempt) error
	// Recent returns attempts newest first. limit <= 0 means all.
	Recent(ctx context.Context, limit int) ([]model.TradeAttempt, error)
}

// Multi fans records out to several sinks and reads from the first.
type Multi struct {
	sinks []Log
}

// NewMulti creates a fan-out log. At least one sink is required; the first
// one serves reads.
func NewMulti(sinks ...Log) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Record(ctx context.Context, attempt model.TradeAttempt) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Record(ctx, attempt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Multi) Recent(ctx context.Context, limit int) ([]model.TradeAttempt, error) {
	return m.sinks[0].Recent(ctx, limit)
}

// Stats summarizes the log for reporting.
type Stats struct {
	TotalAttempts int     `json:"total_attempts"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Skipped       int     `json:"skipped"`
	TotalProfit   float64 `json:"total_profit"`
	AvgProfit     float64 `json:"avg_profit"`
}

// ComputeStats derives totals from a set of attempts. Profit figures only
// count completed attempts.
func ComputeStats(attempts []model.TradeAttempt) Stats {
	var s Stats
	s.TotalAttempts = len(attempts)
	for _, a := range attempts {
		switch a.Status {
		case model.AttemptFilled, model.AttemptPartiallyFilled:
			s.Completed++
			s.TotalProfit += a.RealizedProfit
		case model.AttemptFailed:
			s.Failed++
		case model.AttemptSkipped:
			s.Skipped++
		}
	}
	if s.Completed > 0 {
		s.AvgProfit = s.TotalProfit / float64(s.Completed)
	}
	return s
}
