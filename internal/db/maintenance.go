// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"
)

// Maintenance performs engine-specific housekeeping. For SQLite it runs
// PRAGMA optimize, VACUUM, a WAL checkpoint and an integrity check; for
// Postgres VACUUM ANALYZE; for MySQL OPTIMIZE TABLE on every table.
func (s *Store) Maintenance(ctx context.Context) error {
	switch s.dbType {
	case "sqlite":
		// optimize is unsupported in some environments (e.g. in-memory
		// filesystems); treat its failure as non-fatal.
		if _, err := ExecRaw(ctx, s.bun, "PRAGMA optimize"); err != nil {
			dbLogf("sqlite optimize failed (ignored): %v", err)
		}
		if _, err := ExecRaw(ctx, s.bun, "VACUUM"); err != nil {
			return fmt.Errorf("sqlite vacuum failed: %w", err)
		}
		_, _ = ExecRaw(ctx, s.bun, "PRAGMA wal_checkpoint(TRUNCATE)")
		var res string
		if err := QueryRawInto(ctx, s.bun, &res, "PRAGMA integrity_check"); err != nil {
			return fmt.Errorf("sqlite integrity_check failed: %w", err)
		}
		if res != "ok" {
			return fmt.Errorf("sqlite integrity_check failed: %s", res)
		}
	case "postgres":
		if _, err := ExecRaw(ctx, s.bun, "VACUUM ANALYZE"); err != nil {
			return fmt.Errorf("postgres vacuum failed: %w", err)
		}
	case "mysql":
		var tables []string
		if err := QueryRawInto(ctx, s.bun, &tables, "SHOW TABLES"); err != nil {
			return fmt.Errorf("mysql show tables failed: %w", err)
		}
		var lastErr error
		for _, table := range tables {
			if _, err := ExecRaw(ctx, s.bun, "OPTIMIZE TABLE ?", bunIdent(table)); err != nil {
				// Non-fatal per table: remember the last error and continue.
				dbLogf("mysql optimize table %s failed: %v", table, err)
				lastErr = err
			}
		}
		if lastErr != nil {
			return fmt.Errorf("mysql optimize encountered errors: %w", lastErr)
		}
	default:
		return fmt.Errorf("unsupported db type for maintenance: %s", s.dbType)
	}
	return nil
}
