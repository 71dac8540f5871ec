// Package dbview implements the Database View of spec.md §2 item 5: a
// read model answering "which files under directory D are already
// indexed, with which mtime and hash?". It is backed by a local
// PostgreSQL mirror refreshed from the Vector-Store Facade
// (SPEC_FULL.md §11.3), generalized from the teacher's
// pkg/compliance/storage/postgres package (pgxpool connection pool,
// golang-migrate schema migrations, lib/pq registered as the
// database/sql driver migrate needs). The mirror is advisory only:
// Facade.ListFiles remains authoritative, and any mirror failure falls
// through to it rather than failing the caller.
package dbview

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/TheEntropyCollective/docanalyzer/internal/facade"
	"github.com/TheEntropyCollective/docanalyzer/internal/model"
	"github.com/TheEntropyCollective/docanalyzer/internal/telemetry/logging"
)

// View is the Database View: a thin, advisory cache in front of the
// Facade.
type View struct {
	pool   *pgxpool.Pool
	facade *facade.Facade
	log    *logging.Logger
}

// Open connects to the mirror database, applies pending migrations
// from migrationsPath, and returns a ready View. Call Close when done.
func Open(ctx context.Context, dsn, migrationsPath string, f *facade.Facade, log *logging.Logger) (*View, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open mirror pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping mirror database: %w", err)
	}

	if err := migrateUp(dsn, migrationsPath); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply mirror migrations: %w", err)
	}

	if log == nil {
		log = logging.New(logging.Config{Level: logging.InfoLevel, Format: logging.TextFormat})
	}
	return &View{pool: pool, facade: f, log: log.WithComponent("dbview")}, nil
}

func migrateUp(dsn, migrationsPath string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the mirror connection pool.
func (v *View) Close() {
	if v.pool != nil {
		v.pool.Close()
	}
}

// Refresh pulls the authoritative file list for dir from the Facade and
// replaces the local mirror's rows for that directory. A mirror write
// failure is logged, not propagated: the records the Facade returned
// are still usable for this round, only the cache for next time is
// stale.
func (v *View) Refresh(ctx context.Context, dir string) ([]model.IndexedFileRecord, error) {
	records, err := v.facade.ListFiles(ctx, dir)
	if err != nil {
		return nil, err
	}
	if err := v.replaceMirrorRows(ctx, dir, records); err != nil {
		v.log.WithField("directory", dir).Warnf("mirror refresh failed, continuing with facade result: %v", err)
	}
	return records, nil
}

