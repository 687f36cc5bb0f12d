// Package postgres implements the store.Store contract on top of
// PostgreSQL via pgx.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tinode/fanout/internal/corerr"
	storepkg "github.com/tinode/fanout/internal/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Adapter implements store.Store against a PostgreSQL database.
type Adapter struct {
	pool *pgxpool.Pool
	dsn  string
}

// New returns an unopened Adapter.
func New() *Adapter {
	return &Adapter{}
}

// Open connects the pool. Pool size follows a 20-50 connections-per-node
// guidance via the DSN's pool_max_conns parameter.
func (a *Adapter) Open(ctx context.Context, dsn string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return corerr.New(corerr.StoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return corerr.New(corerr.StoreUnavailable, err)
	}
	a.pool = pool
	a.dsn = dsn
	return nil
}

// Close releases the pool.
func (a *Adapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

// Migrate runs idempotent schema migrations at startup via golang-migrate
// only; there is no fallback schema initializer.
func (a *Adapter) Migrate(ctx context.Context) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return corerr.New(corerr.Internal, err)
	}

	db, err := sql.Open("pgx", a.dsn)
	if err != nil {
		return corerr.New(corerr.StoreUnavailable, err)
	}
	defer db.Close()

	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return corerr.New(corerr.Internal, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return corerr.New(corerr.Internal, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return corerr.New(corerr.Internal, err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	return corerr.New(corerr.StoreUnavailable, err)
}

var _ storepkg.Store = (*Adapter)(nil)

// clamp bounds a requested page size to the [0, 100] range message
// pagination allows.
func clamp(limit int) int {
	if limit <= 0 {
		return 0
	}
	if limit > 100 {
		return 100
	}
	return limit
}
