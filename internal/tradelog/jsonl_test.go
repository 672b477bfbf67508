package tradelog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossarb/internal/model"
)

func sampleAttempt(id string, status model.AttemptStatus, profit float64, at time.Time) model.TradeAttempt {
	return model.TradeAttempt{
		ID: id,
		Opportunity: model.Opportunity{
			ID:           "opp-" + id,
			Symbol:       "DOGE",
			BuyExchange:  "binance",
			SellExchange: "okx",
			BuyPrice:     1.00,
			SellPrice:    1.12,
			Quantity:     8,
		},
		Trigger:        model.TriggerAuto,
		Status:         status,
		RealizedProfit: profit,
		StartedAt:      at,
		CompletedAt:    at.Add(2 * time.Second),
	}
}

func TestJSONL_RecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades", "trade_log.jsonl")
	l := NewJSONL(path)
	defer l.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"a", "b", "c"} {
		attempt := sampleAttempt(id, model.AttemptFilled, 0.5, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, l.Record(ctx, attempt))
	}

	got, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID, "newest attempt comes first")
	assert.Equal(t, "a", got[2].ID)
	assert.Equal(t, "binance", got[0].Opportunity.BuyExchange)
	assert.Equal(t, model.TriggerAuto, got[0].Trigger)

	limited, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "c", limited[0].ID)
	assert.Equal(t, "b", limited[1].ID)
}

func TestJSONL_RecentOnMissingFile(t *testing.T) {
	l := NewJSONL(filepath.Join(t.TempDir(), "never_written.jsonl"))
	got, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJSONL_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trade_log.jsonl")
	ctx := context.Background()

	first := NewJSONL(path)
	require.NoError(t, first.Record(ctx, sampleAttempt("a", model.AttemptFilled, 0.5, time.Now())))
	require.NoError(t, first.Close())

	// A new process appends to the same file.
	second := NewJSONL(path)
	defer second.Close()
	require.NoError(t, second.Record(ctx, sampleAttempt("b", model.AttemptFailed, 0, time.Now())))

	got, err := second.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestComputeStats(t *testing.T) {
	now := time.Now()
	attempts := []model.TradeAttempt{
		sampleAttempt("a", model.AttemptFilled, 0.90, now),
		sampleAttempt("b", model.AttemptPartiallyFilled, 0.30, now),
		sampleAttempt("c", model.AttemptFailed, 0, now),
		sampleAttempt("d", model.AttemptSkipped, 0, now),
	}

	s := ComputeStats(attempts)
	assert.Equal(t, 4, s.TotalAttempts)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.InDelta(t, 1.20, s.TotalProfit, 1e-9)
	assert.InDelta(t, 0.60, s.AvgProfit, 1e-9)
}

func TestComputeStats_Empty(t *testing.T) {
	s := ComputeStats(nil)
	assert.Equal(t, 0, s.TotalAttempts)
	assert.Zero(t, s.AvgProfit)
}

type recordingLog struct {
	attempts []model.TradeAttempt
}

func (r *recordingLog) Record(_ context.Context, attempt model.TradeAttempt) error {
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *recordingLog) Recent(_ context.Context, _ int) ([]model.TradeAttempt, error) {
	out := make([]model.TradeAttempt, len(r.attempts))
	copy(out, r.attempts)
	return out, nil
}

func TestMulti_FansOutAndReadsFromFirst(t *testing.T) {
	primary := &recordingLog{}
	secondary := &recordingLog{}
	m := NewMulti(primary, secondary)

	ctx := context.Background()
	require.NoError(t, m.Record(ctx, sampleAttempt("a", model.AttemptFilled, 0.5, time.Now())))
	assert.Len(t, primary.attempts, 1)
	assert.Len(t, secondary.attempts, 1)

	got, err := m.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
