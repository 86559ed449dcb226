// Package pgxadapter implements the dbutils connection factory for
// PostgreSQL on top of github.com/jackc/pgx/v5. It also loads backend
// location and pool settings from the environment (DATABASE_URL, DBUTILS_*)
// and an optional dbutils.toml file, keeping credentials out of the pool
// itself.
package pgxadapter
