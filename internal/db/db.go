// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db is the relational host repository. It runs on SQLite, PostgreSQL
// or MySQL through Bun, applies embedded per-dialect migrations on open and
// leaves connection pooling to database/sql with limits taken from the
// configuration.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/toeirei/fleetmaster/internal/config"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// sqlOpenFunc allows tests to override database opening behavior.
var sqlOpenFunc = sql.Open

// Store is a Bun-backed host repository.
type Store struct {
	bun    *bun.DB
	dbType string
}

// driverFor maps a configured database type to its database/sql driver and
// a normalised DSN.
func driverFor(dbType, dsn string) (string, string, error) {
	switch dbType {
	case "sqlite":
		return "sqlite", dsn, nil
	case "postgres":
		// The pgx stdlib registers driver name "pgx".
		return "pgx", dsn, nil
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		// Timestamps round-trip as time.Time, and an UPDATE that changes
		// nothing still reports the matched row.
		cfg.ParseTime = true
		cfg.ClientFoundRows = true
		return "mysql", cfg.FormatDSN(), nil
	}
	return "", "", fmt.Errorf("unsupported database type: '%s'", dbType)
}

// Open connects to the configured database, applies migrations and returns
// a Store.
func Open(ctx context.Context, c config.DatabaseConfig) (*Store, error) {
	driverName, dsn, err := driverFor(c.Type, c.DSN)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen, maxIdle, lifetime := c.MaxOpenConns, c.MaxIdleConns, c.ConnMaxLifetime
	// Every connection to ":memory:" is its own database, so pin the pool
	// to a single connection that never expires.
	if c.Type == "sqlite" && c.DSN == ":memory:" {
		maxOpen, maxIdle, lifetime = 1, 1, 0
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", c.Type, err)
	}
	dbLogf("opened %s driver in %s (max open=%d, idle=%d, lifetime=%s)", driverName, time.Since(start), maxOpen, maxIdle, lifetime)

	migStart := time.Now()
	if err := RunMigrations(ctx, sqlDB, c.Type); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	dbLogf("migrations for %s completed in %s", c.Type, time.Since(migStart))

	return &Store{bun: createBunDB(sqlDB, c.Type), dbType: c.Type}, nil
}

// createBunDB constructs a *bun.DB for the provided *sql.DB and dbType.
func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.bun.Close() }

// Type reports the configured database type.
func (s *Store) Type() string { return s.dbType }
