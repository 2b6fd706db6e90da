// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package credential

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/toeirei/fleetmaster/internal/logging"
)

// CleanupStale removes staged keys older than maxAge, left behind by
// enrollments whose probe failed or that were interrupted. It returns the
// number of files removed.
func (s *Store) CleanupStale(maxAge time.Duration) (int, error) {
	return s.cleanupStale(time.Now(), maxAge)
}

func (s *Store) cleanupStale(now time.Time, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir("tmp"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		path := filepath.Join(s.dir("tmp"), e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		logging.Debugf("removed stale staged key %s", path)
	}
	if removed > 0 {
		logging.Infof("removed %d stale staged key(s)", removed)
	}
	return removed, errors.Join(errs...)
}
