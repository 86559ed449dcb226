// Package migrate applies ordered SQL schema migrations over a connection
// borrowed from a dbutils pool. Applied versions are recorded in a
// dbutils_migrations registry table so reruns are idempotent.
package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dbutils-go/dbutils"
)

// Migration is a single versioned schema change. Versions must be unique
// and are applied in ascending order.
type Migration struct {
	Version int64
	Name    string
	SQL     string
}

// Conn is the subset of *pgx.Conn the runner needs. *pgx.Conn satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const registryTable = `
	CREATE TABLE IF NOT EXISTS dbutils_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)
`

// Run applies every pending migration in version order and returns how many
// were applied. Already-recorded versions are skipped.
func Run(ctx context.Context, conn Conn, migrations []Migration) (int, error) {
	if err := validate(migrations); err != nil {
		return 0, err
	}

	if _, err := conn.Exec(ctx, registryTable); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	applied := 0
	for _, m := range ordered {
		var exists bool
		err := conn.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM dbutils_migrations WHERE version = $1)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return applied, fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if exists {
			continue
		}

		if _, err := conn.Exec(ctx, m.SQL); err != nil {
			return applied, fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}

		if _, err := conn.Exec(ctx,
			"INSERT INTO dbutils_migrations (version, name) VALUES ($1, $2)",
			m.Version, m.Name,
		); err != nil {
			return applied, fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		applied++
	}

	return applied, nil
}

// RunPool borrows a connection from the pool for the duration of the run.
// A connection that died mid-run is invalidated instead of returned.
func RunPool(ctx context.Context, pool *dbutils.Pool[*pgx.Conn], migrations []Migration) (int, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}

	applied, runErr := Run(ctx, conn.Handle(), migrations)

	if runErr != nil && conn.Handle().IsClosed() {
		_ = conn.Invalidate()
	} else {
		_ = conn.Release()
	}
	return applied, runErr
}

func validate(migrations []Migration) error {
	seen := make(map[int64]string, len(migrations))
	for _, m := range migrations {
		if m.Version <= 0 {
			return fmt.Errorf("migration %q has non-positive version %d", m.Name, m.Version)
		}
		if prev, ok := seen[m.Version]; ok {
			return fmt.Errorf("duplicate migration version %d (%q and %q)", m.Version, prev, m.Name)
		}
		seen[m.Version] = m.Name
	}
	return nil
}
