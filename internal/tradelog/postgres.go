package tradelog

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"crossarb/internal/model"
)

// PostgresLog is an append-only trade log in postgres. Queryable fields are
// broken out into columns; the full attempt is kept as JSONB so reads
// round-trip exactly.
type PostgresLog struct {
	Pool *pgxpool.Pool
}

// NewPostgresLog creates a postgres-backed trade log over an existing pool.
func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{Pool: pool}
}

const createTradeAttemptsSQL = `
CREATE TABLE IF NOT EXISTS trade_attempts (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	symbol VARCHAR(20) NOT NULL,
	buy_exchange VARCHAR(50) NOT NULL,
	sell_exchange VARCHAR(50) NOT NULL,
	trigger VARCHAR(10) NOT NULL,
	status VARCHAR(20) NOT NULL,
	realized_profit NUMERIC(20, 8) NOT NULL,
	exposed_position BOOLEAN NOT NULL,
	attempt JSONB NOT NULL
);`

// Migrate creates the trade_attempts table if it does not exist.
func (l *PostgresLog) Migrate(ctx context.Context) error {
	_, err := l.Pool.Exec(ctx, createTradeAttemptsSQL)
	return err
}

// Record appends one attempt. Records are never updated or deleted.
func (l *PostgresLog) Record(ctx context.Context, attempt model.TradeAttempt) error {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	_, err = l.Pool.Exec(ctx, `
		INSERT INTO trade_attempts (
			id, started_at, completed_at, symbol, buy_exchange, sell_exchange,
			trigger, status, realized_profit, exposed_position, attempt
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		attempt.ID,
		attempt.StartedAt,
		attempt.CompletedAt,
		attempt.Opportunity.Symbol,
		attempt.Opportunity.BuyExchange,
		attempt.Opportunity.SellExchange,
		string(attempt.Trigger),
		string(attempt.Status),
		attempt.RealizedProfit,
		attempt.ExposedPosition,
		payload,
	)
	return err
}

// Recent returns attempts newest first.
func (l *PostgresLog) Recent(ctx context.Context, limit int) ([]model.TradeAttempt, error) {
	query := `SELECT attempt FROM trade_attempts ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := l.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.TradeAttempt
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a model.TradeAttempt
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
