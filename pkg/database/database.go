// Package database is the SQL collaborator: the framework owns connecting,
// health checking, and closing; schema and query semantics belong to the
// application.
package database

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"

	"github.com/evantahler/bun-actionhero-sub001/pkg/config"
)

// Database wraps the sqlx connection pool.
type Database struct {
	db  *sqlx.DB
	cfg config.DatabaseConfig
}

// Connect opens and verifies the connection pool.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "failed to ping database")
	}

	return &Database{db: db, cfg: cfg}, nil
}

// DB exposes the underlying sqlx handle to application code.
func (d *Database) DB() *sqlx.DB {
	return d.db
}

// Ping verifies the connection is alive.
func (d *Database) Ping(ctx context.Context) error {
	return pkgerrors.Wrap(d.db.PingContext(ctx), "database ping failed")
}

// Close drains the pool.
func (d *Database) Close() error {
	return pkgerrors.Wrap(d.db.Close(), "failed to close database")
}
