// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/toeirei/fleetmaster/internal/events"
)

func newEventsCmd(rt *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Host state change notifications",
	}
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print host events as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rt.cfg.Events
			if cfg.NATSURL == "" {
				return errors.New("events.nats_url is not configured")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			enc := json.NewEncoder(cmd.OutOrStdout())
			return events.Watch(ctx, cfg.NATSURL, cfg.Subject, func(e events.HostEvent) {
				_ = enc.Encode(e)
			})
		},
	}
	cmd.AddCommand(watchCmd)
	return cmd
}
