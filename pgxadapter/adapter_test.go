package pgxadapter_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/dbutils-go/dbutils"
	"github.com/dbutils-go/dbutils/pgxadapter"
)

func TestNewFromEnv(t *testing.T) {
	clearEnv(t)

	t.Run("prefers DBUTILS_DATABASE_URL", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://generic@localhost/a")
		t.Setenv("DBUTILS_DATABASE_URL", "postgres://specific@localhost/b")
		require.Equal(t, "postgres://specific@localhost/b", pgxadapter.NewFromEnv().ConnString())
	})

	t.Run("falls back to DATABASE_URL", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://generic@localhost/a")
		require.Equal(t, "postgres://generic@localhost/a", pgxadapter.NewFromEnv().ConnString())
	})

	t.Run("defaults to local postgres", func(t *testing.T) {
		require.Contains(t, pgxadapter.NewFromEnv().ConnString(), "localhost:5432")
	})
}

// integrationFactory returns a factory against a real server, skipping when
// none is configured.
func integrationFactory(t *testing.T) *pgxadapter.Factory {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	if os.Getenv("DATABASE_URL") == "" && os.Getenv("DBUTILS_DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set")
	}
	return pgxadapter.NewFromEnv()
}

func TestFactoryIntegration(t *testing.T) {
	factory := integrationFactory(t)
	ctx := context.Background()

	conn, err := factory.Open(ctx)
	require.NoError(t, err, "failed to connect to database")

	require.True(t, factory.Validate(ctx, conn))

	factory.Close(conn)
	require.True(t, conn.IsClosed())
	require.False(t, factory.Validate(ctx, conn), "closed connection must not validate")

	// Close must be idempotent.
	factory.Close(conn)
}

func TestPoolIntegration(t *testing.T) {
	factory := integrationFactory(t)
	ctx := context.Background()

	pool, err := dbutils.New(&dbutils.Config[*pgx.Conn]{
		Factory:        factory,
		Capacity:       2,
		AcquireTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	defer pool.Close(ctx)

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)

	var one int
	require.NoError(t, conn.Handle().QueryRow(ctx, "SELECT 1").Scan(&one))
	require.Equal(t, 1, one)
	require.NoError(t, conn.Release())
}
