package tradelog

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"crossarb/internal/model"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpassword",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("could not start postgres container: %s", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Fatalf("could not stop postgres container: %s", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	if err != nil {
		log.Fatalf("could not get container host: %s", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("could not get mapped port: %s", err)
	}

	connStr := "postgres://testuser:testpassword@" + host + ":" + port.Port() + "/testdb"
	pool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("could not connect to database: %s", err)
	}
	defer pool.Close()

	if err := NewPostgresLog(pool).Migrate(ctx); err != nil {
		log.Fatalf("could not create table: %s", err)
	}

	os.Exit(m.Run())
}

func TestPostgresLog_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	l := NewPostgresLog(pool)

	base := time.Now().UTC().Truncate(time.Millisecond)
	older := sampleAttempt(uuid.NewString(), model.AttemptFilled, 0.94, base)
	newer := sampleAttempt(uuid.NewString(), model.AttemptFailed, 0, base.Add(time.Minute))
	newer.ExposedPosition = true
	newer.Error = "sell leg failed"

	require.NoError(t, l.Record(ctx, older))
	require.NoError(t, l.Record(ctx, newer))

	got, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, newer.ID, got[0].ID, "newest attempt comes first")

	// The JSONB payload round-trips the whole attempt.
	assert.Equal(t, newer.Opportunity.Symbol, got[0].Opportunity.Symbol)
	assert.True(t, got[0].ExposedPosition)
	assert.Equal(t, "sell leg failed", got[0].Error)
	assert.Equal(t, older.ID, got[1].ID)
	assert.InDelta(t, 0.94, got[1].RealizedProfit, 1e-9)
}

func TestPostgresLog_RecentLimit(t *testing.T) {
	ctx := context.Background()
	l := NewPostgresLog(pool)

	base := time.Now().UTC().Add(time.Hour)
	for i := 0; i < 3; i++ {
		attempt := sampleAttempt(uuid.NewString(), model.AttemptFilled, 0.1, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, l.Record(ctx, attempt))
	}

	got, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
