// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/toeirei/fleetmaster/internal/config"
	"github.com/toeirei/fleetmaster/internal/logging"
)

// rootState carries the resolved configuration from the root command's
// pre-run hook to the subcommands.
type rootState struct {
	cfg     config.Config
	cfgFile string
	verbose bool
}

// Execute runs the CLI entrypoint. main packages call this and handle the
// process exit.
func Execute() error {
	return NewRootCmd().Execute()
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	// Only proceed if the user has explicitly set the --config flag.
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// load resolves and validates the configuration and configures logging.
func (rt *rootState) load(cmd *cobra.Command) error {
	path, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if rt.verbose {
		cfg.Log.Level = "debug"
	}
	logging.Configure(cmd.ErrOrStderr(), logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	rt.cfg = cfg
	return nil
}

// NewRootCmd creates and configures a new root cobra command.
// This function is used to create the main application command as well as
// fresh instances for isolated testing.
func NewRootCmd() *cobra.Command {
	rt := &rootState{}
	cmd := &cobra.Command{
		Use:   "fleetmaster",
		Short: "Fleetmaster enrolls hosts over SSH and tracks agent liveness.",
		Long: `Fleetmaster installs a small agent on remote hosts over SSH and keeps
track of whether each agent answers its heartbeat. Hosts are stored in
SQLite, PostgreSQL, MySQL or an embedded Badger store.

Run 'fleetmaster init' once to create the data directories and the global
fallback key, then 'fleetmaster serve' to start the controller.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.load(cmd)
		},
	}
	cmd.Version = compositeVersion()

	pf := cmd.PersistentFlags()
	pf.StringVar(&rt.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/fleetmaster/fleetmaster.yaml or ./fleetmaster.yaml)")
	pf.BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")
	pf.String("data-root", "", "Directory holding ssh keys and agent artifacts")
	pf.Int64("node-id", -1, "Snowflake node id (negative derives it from the local IPv4 address)")
	pf.String("db-type", "", "Database type (sqlite, postgres, mysql, badger)")
	pf.String("db-dsn", "", "Database connection string (DSN) or badger directory")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (text, json, logfmt)")

	cmd.AddCommand(
		newServeCmd(rt),
		newEnrollCmd(rt),
		newRefreshCmd(rt),
		newHostsCmd(rt),
		newStopCmd(rt),
		newStartCmd(rt),
		newInitCmd(rt),
		newConfigCmd(rt),
		newDBCmd(rt),
		newEventsCmd(rt),
		newVersionCmd(),
	)
	return cmd
}
