// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/toeirei/fleetmaster/buildvars"
)

const modulePath = "github.com/toeirei/fleetmaster"

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If `info` is nil, it reads build info from
// the runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault("dev")
	resolvedCommit := buildvars.Commit
	resolvedDate := buildvars.BuildDate

	if info == nil {
		if local, ok := debug.ReadBuildInfo(); ok {
			info = local
		}
	}
	if info != nil {
		if resolvedVersion == "dev" {
			if info.Main.Version != "" && info.Main.Version != "(devel)" {
				resolvedVersion = info.Main.Version
			}
			// Some build paths only record the module as a dependency.
			for _, dep := range info.Deps {
				if resolvedVersion == "dev" && dep.Path == modulePath && dep.Version != "" {
					resolvedVersion = dep.Version
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if resolvedCommit == "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if resolvedDate == "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	// As a last resort show the commit to aid support.
	if resolvedVersion == "dev" && resolvedCommit != "" {
		resolvedVersion = resolvedCommit
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != v {
		out += " (" + c + ")"
	}
	if d != "" {
		out += " built: " + d
	}
	return out
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		// Printing the version must work without a valid configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			if c != "" {
				fmt.Fprintf(out, "commit: %s\n", c)
			}
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}
}
