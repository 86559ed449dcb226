package migrate_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/dbutils-go/dbutils/migrate"
)

// fakeDB satisfies migrate.Conn and records what was executed.
type fakeDB struct {
	executed []string
	applied  map[int64]bool
	execErr  error
}

func newFakeDB() *fakeDB {
	return &fakeDB{applied: make(map[int64]bool)}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	f.executed = append(f.executed, strings.TrimSpace(sql))
	if strings.HasPrefix(sql, "INSERT INTO dbutils_migrations") {
		f.applied[arguments[0].(int64)] = true
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{exists: f.applied[args[0].(int64)]}
}

type fakeRow struct {
	exists bool
}

func (r fakeRow) Scan(dest ...any) error {
	*(dest[0].(*bool)) = r.exists
	return nil
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	migrations := []migrate.Migration{
		{Version: 2, Name: "add_index", SQL: "CREATE INDEX idx_users_name ON users (name)"},
		{Version: 1, Name: "create_users", SQL: "CREATE TABLE users (id SERIAL PRIMARY KEY, name TEXT)"},
	}

	t.Run("applies pending migrations in version order", func(t *testing.T) {
		db := newFakeDB()
		applied, err := migrate.Run(ctx, db, migrations)
		require.NoError(t, err)
		require.Equal(t, 2, applied)

		var ddl []string
		for _, sql := range db.executed {
			if strings.HasPrefix(sql, "CREATE TABLE users") || strings.HasPrefix(sql, "CREATE INDEX") {
				ddl = append(ddl, sql)
			}
		}
		require.Len(t, ddl, 2)
		require.Contains(t, ddl[0], "CREATE TABLE users", "version 1 must run before version 2")
		require.Contains(t, ddl[1], "CREATE INDEX")
	})

	t.Run("rerun is idempotent", func(t *testing.T) {
		db := newFakeDB()
		_, err := migrate.Run(ctx, db, migrations)
		require.NoError(t, err)

		applied, err := migrate.Run(ctx, db, migrations)
		require.NoError(t, err)
		require.Zero(t, applied)
	})

	t.Run("applies only missing versions", func(t *testing.T) {
		db := newFakeDB()
		db.applied[1] = true

		applied, err := migrate.Run(ctx, db, migrations)
		require.NoError(t, err)
		require.Equal(t, 1, applied)
		require.True(t, db.applied[2])
	})

	t.Run("rejects duplicate versions", func(t *testing.T) {
		_, err := migrate.Run(ctx, newFakeDB(), []migrate.Migration{
			{Version: 1, Name: "a", SQL: "SELECT 1"},
			{Version: 1, Name: "b", SQL: "SELECT 2"},
		})
		require.Error(t, err)
	})

	t.Run("rejects non-positive versions", func(t *testing.T) {
		_, err := migrate.Run(ctx, newFakeDB(), []migrate.Migration{
			{Version: 0, Name: "zero", SQL: "SELECT 1"},
		})
		require.Error(t, err)
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		db := newFakeDB()
		db.execErr = errors.New("syntax error")

		applied, err := migrate.Run(ctx, db, migrations)
		require.Error(t, err)
		require.Zero(t, applied)
	})
}

func TestLoadDir(t *testing.T) {
	t.Run("loads and orders migrations", func(t *testing.T) {
		fsys := fstest.MapFS{
			"002_add_index.sql":    {Data: []byte("CREATE INDEX i ON t (c)")},
			"001_create_table.sql": {Data: []byte("CREATE TABLE t (c TEXT)")},
		}

		migrations, err := migrate.LoadDir(fsys)
		require.NoError(t, err)
		require.Len(t, migrations, 2)
		require.Equal(t, int64(1), migrations[0].Version)
		require.Equal(t, "create_table", migrations[0].Name)
		require.Equal(t, "CREATE TABLE t (c TEXT)", migrations[0].SQL)
		require.Equal(t, int64(2), migrations[1].Version)
	})

	t.Run("rejects stray files", func(t *testing.T) {
		fsys := fstest.MapFS{
			"001_ok.sql": {Data: []byte("SELECT 1")},
			"README.md":  {Data: []byte("docs")},
		}
		_, err := migrate.LoadDir(fsys)
		require.Error(t, err)
	})

	t.Run("rejects duplicate versions", func(t *testing.T) {
		fsys := fstest.MapFS{
			"001_a.sql": {Data: []byte("SELECT 1")},
			"01_b.sql":  {Data: []byte("SELECT 2")},
		}
		_, err := migrate.LoadDir(fsys)
		require.Error(t, err)
	})

	t.Run("ignores directories", func(t *testing.T) {
		fsys := fstest.MapFS{
			"001_a.sql":       {Data: []byte("SELECT 1")},
			"archive/old.sql": {Data: []byte("SELECT 2")},
		}
		migrations, err := migrate.LoadDir(fsys)
		require.NoError(t, err)
		require.Len(t, migrations, 1)
	})
}
