// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Command fleetmaster-agent runs on enrolled hosts and answers the
// controller's heartbeat Ping. It is installed and started by enrollment.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/fleetmaster/buildvars"
	"github.com/toeirei/fleetmaster/internal/agentrpc"
	"github.com/toeirei/fleetmaster/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd reads port, bind address and log settings from flags or
// FLEETMASTER_AGENT_* environment variables.
func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          "fleetmaster-agent",
		Short:        "Answer Fleetmaster heartbeats",
		Version:      buildvars.VersionOrDefault("dev"),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Configure(cmd.ErrOrStderr(), logging.Options{
				Level:  v.GetString("log_level"),
				Format: v.GetString("log_format"),
				Prefix: "agent",
			})
			port := v.GetUint("port")
			if port == 0 || port > 65535 {
				return fmt.Errorf("invalid port %d", port)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			addr := net.JoinHostPort(v.GetString("listen"), strconv.FormatUint(uint64(port), 10))
			return agentrpc.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().Uint("port", agentrpc.DefaultPort, "Port to listen on")
	cmd.Flags().String("listen", "0.0.0.0", "Address to bind")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json, logfmt)")

	v.SetEnvPrefix("fleetmaster_agent")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))
	_ = v.BindPFlag("log_format", cmd.Flags().Lookup("log-format"))
	return cmd
}
