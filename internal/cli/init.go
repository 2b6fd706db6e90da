// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/toeirei/fleetmaster/internal/config"
	"github.com/toeirei/fleetmaster/internal/credential"
	"github.com/toeirei/fleetmaster/internal/deploy"
)

func newInitCmd(rt *rootState) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directories, the global key and the agent unit",
		Long: `Creates ssh/{global,keys,tmp} and bin/ under the data root, generates
the global fallback key (unless one exists) and renders the default agent
unit file. Copy the agent binary to bin/ before enrolling hosts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rt.cfg
			out := cmd.OutOrStdout()
			creds := credential.New(cfg.DataRoot, nil)
			if err := creds.InitDirs(); err != nil {
				return err
			}

			host, _ := os.Hostname()
			pub, err := creds.GenerateGlobal("fleetmaster@"+host, force)
			switch {
			case errors.Is(err, credential.ErrGlobalKeyExists):
				fmt.Fprintf(out, "global key already present at %s (use --force to replace)\n", creds.GlobalPath())
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "wrote global key %s\n", creds.GlobalPath())
				fmt.Fprintf(out, "install this public key on hosts enrolled without a key of their own:\n%s\n", pub)
			}

			opts := deploy.OptionsFromConfig(cfg)
			if err := deploy.EnsureUnitFile(opts); err != nil {
				return err
			}
			fmt.Fprintf(out, "agent unit at %s\n", opts.LocalUnit)
			if _, err := os.Stat(opts.LocalBinary); err != nil {
				fmt.Fprintf(out, "agent binary missing: copy it to %s\n", opts.LocalBinary)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing global key")
	return cmd
}

func newConfigCmd(rt *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}

	var (
		system bool
		path   string
		force  bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		// The file being written may be the one that fails to load.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			target := path
			if target == "" {
				p, err := config.GetConfigPath(system)
				if err != nil {
					return err
				}
				target = p
			}
			if _, err := os.Stat(target); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", target)
			}
			c := config.Default()
			if err := config.WriteConfigFile(&c, target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&system, "system", false, "Write the system-wide file instead of the user file")
	initCmd.Flags().StringVar(&path, "path", "", "Write to this path")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeYAML(cmd.OutOrStdout(), rt.cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
