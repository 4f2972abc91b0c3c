package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/RezaEskandarii/keyfire/internal/constants"
	"github.com/RezaEskandarii/keyfire/internal/lock"
	"github.com/RezaEskandarii/keyfire/types/config"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Connect opens and pings a PostgreSQL pool.
func Connect(ctx context.Context, pg config.PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", pg.ConnectionUrl)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	if pg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pg.MaxOpenConns)
	}
	if pg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pg.MaxIdleConns)
	}
	if pg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pg.ConnMaxLifetime)
	}
	return db, nil
}

// Init creates the schema and applies the embedded migration scripts.
// Only one instance runs the migrations at a time; the others wait on the
// migration lock and then find every statement already applied.
func Init(ctx context.Context, db *sqlx.DB, distributedLock lock.DistributedLockManager, logger *zap.SugaredLogger) error {
	if err := distributedLock.Acquire(ctx, constants.MigrationLock); err != nil {
		return err
	}
	defer func() {
		if err := distributedLock.Release(ctx, constants.MigrationLock); err != nil {
			logger.Warnw("failed to release migration lock", "error", err)
		}
	}()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", constants.Schema)); err != nil {
		return errors.Wrap(err, "failed to create schema")
	}

	scripts, err := readSQLScripts()
	if err != nil {
		return err
	}
	for _, script := range scripts {
		logger.Infow("applying migration", "script", script.name)
		if _, err := db.ExecContext(ctx, script.body); err != nil {
			return errors.Wrapf(err, "migration %s failed", script.name)
		}
	}
	return nil
}

type sqlScript struct {
	name string
	body string
}

// readSQLScripts returns the migrations ordered by file name.
func readSQLScripts() ([]sqlScript, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read migrations")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	scripts := make([]sqlScript, 0, len(names))
	for _, name := range names {
		content, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read migration %s", name)
		}
		scripts = append(scripts, sqlScript{name: name, body: string(content)})
	}
	return scripts, nil
}
