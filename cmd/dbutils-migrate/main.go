// Command dbutils-migrate applies SQL migrations from a directory to the
// database named by DATABASE_URL / DBUTILS_DATABASE_URL or dbutils.toml.
//
// Migration files are named NNN_name.sql and applied in version order;
// already-applied versions are skipped.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dbutils-go/dbutils/migrate"
	"github.com/dbutils-go/dbutils/pgxadapter"
)

func main() {
	dir := flag.String("dir", "migrations", "directory containing NNN_name.sql migration files")
	configPath := flag.String("config", "", "path to dbutils.toml (default: $DBUTILS_CONFIG, then ./dbutils.toml)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall timeout for the run")
	flag.Parse()

	settings, err := pgxadapter.LoadSettings(*configPath)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	migrations, err := migrate.LoadDir(os.DirFS(*dir))
	if err != nil {
		log.Fatalf("Failed to load migrations from %s: %v", *dir, err)
	}
	if len(migrations) == 0 {
		fmt.Printf("No migrations found in %s\n", *dir)
		return
	}

	pool, err := pgxadapter.NewPool(settings)
	if err != nil {
		log.Fatalf("Failed to create pool: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	applied, err := migrate.RunPool(ctx, pool, migrations)
	if err != nil {
		_ = pool.Close(ctx)
		log.Fatalf("Migration failed after applying %d migrations: %v", applied, err)
	}

	fmt.Printf("Applied %d of %d migrations\n", applied, len(migrations))

	if err := pool.Close(ctx); err != nil {
		log.Printf("Warning: pool shutdown: %v", err)
	}
}
