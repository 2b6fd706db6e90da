// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/toeirei/fleetmaster/internal/logging"
)

func writeYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func newDBCmd(rt *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database housekeeping",
	}

	var timeout time.Duration
	maintainCmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run engine-specific maintenance (vacuum, optimize, value log GC)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			repo, err := openRepository(ctx, rt.cfg.Database)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			start := time.Now()
			if err := repo.Maintenance(ctx); err != nil {
				return fmt.Errorf("maintenance failed: %w", err)
			}
			logging.Infof("%s maintenance completed in %s", repo.Type(), time.Since(start))
			fmt.Fprintf(cmd.OutOrStdout(), "%s maintenance completed\n", repo.Type())
			return nil
		},
	}
	maintainCmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort maintenance after this long (0 means no timeout)")

	cmd.AddCommand(maintainCmd)
	return cmd
}
