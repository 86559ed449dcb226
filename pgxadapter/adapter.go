package pgxadapter

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dbutils-go/dbutils"
)

// opTimeout bounds the adapter's own ping and close round trips so a hung
// backend cannot wedge the reaper.
const opTimeout = 5 * time.Second

// Factory opens pgx connections for a dbutils pool. The zero value is not
// usable; construct with New or NewFromEnv.
type Factory struct {
	connString string
}

var _ dbutils.Factory[*pgx.Conn] = (*Factory)(nil)

// New returns a Factory connecting with the given pgx connection string.
func New(connString string) *Factory {
	return &Factory{connString: connString}
}

// NewFromEnv returns a Factory configured from DBUTILS_DATABASE_URL or
// DATABASE_URL, falling back to a local postgres superuser connection the
// way the integration test helpers do.
func NewFromEnv() *Factory {
	return New(databaseURLFromEnv())
}

// ConnString returns the connection string the factory dials.
func (f *Factory) ConnString() string {
	return f.connString
}

// Open establishes a new connection to the backend.
func (f *Factory) Open(ctx context.Context) (*pgx.Conn, error) {
	return pgx.Connect(ctx, f.connString)
}

// Validate reports whether the connection still answers a ping.
func (f *Factory) Validate(ctx context.Context, conn *pgx.Conn) bool {
	if conn == nil || conn.IsClosed() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return conn.Ping(ctx) == nil
}

// Close closes the connection, best-effort. Closing an already-dead
// connection is a no-op.
func (f *Factory) Close(conn *pgx.Conn) {
	if conn == nil || conn.IsClosed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_ = conn.Close(ctx)
}

// NewPool builds a dbutils pool from the given settings.
func NewPool(settings *Settings) (*dbutils.Pool[*pgx.Conn], error) {
	config := settings.PoolConfig()
	return dbutils.New(&config)
}
