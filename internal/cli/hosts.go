// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/fleetmaster/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// stateLabel renders a host state for humans, e.g. "Disconnected".
func stateLabel(s model.HostState) string {
	return titleCaser.String(string(s))
}

// withApp builds the controller for the duration of fn.
func (rt *rootState) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := NewApp(ctx, rt.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	return fn(ctx, app)
}

func printHost(w io.Writer, h *model.Host) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.ID, h.Name, h.IP, stateLabel(h.State))
}

func newEnrollCmd(rt *rootState) *cobra.Command {
	var (
		name, ip, user, keyFile string
		port                    uint16
	)
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a host and install the agent",
		Long: `Validates SSH access to the host, installs the agent binary and its
systemd unit, and records the host as running. Without --key-file the
global fallback key is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := netip.ParseAddr(ip)
			if err != nil {
				return fmt.Errorf("invalid --ip: %w", err)
			}
			req := model.EnrollmentRequest{Name: name, IP: addr, Port: port, User: user}
			if keyFile != "" {
				if req.Key, err = os.ReadFile(keyFile); err != nil {
					return fmt.Errorf("read key file: %w", err)
				}
			}
			return rt.withApp(cmd, func(ctx context.Context, app *App) error {
				id, err := app.Registry.Enroll(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name of the host")
	cmd.Flags().StringVar(&ip, "ip", "", "IP address of the host")
	cmd.Flags().Uint16Var(&port, "port", model.DefaultSSHPort, "SSH port")
	cmd.Flags().StringVar(&user, "user", model.DefaultSSHUser, "SSH user")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "Private key for this host")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("ip")
	return cmd
}

func parseIDArg(args []string) (model.HostID, error) {
	return model.ParseHostID(args[0])
}

func newRefreshCmd(rt *rootState) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "refresh [id]",
		Short: "Probe one host, or every host with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no host id")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("expected a host id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(ctx context.Context, app *App) error {
				out := cmd.OutOrStdout()
				if all {
					sum, err := app.Registry.RefreshAll(ctx)
					fmt.Fprintf(out, "%d running, %d disconnected, %d stopped, %d failed\n",
						sum.Running, sum.Disconnected, sum.Stopped, sum.Failed)
					return err
				}
				id, err := parseIDArg(args)
				if err != nil {
					return err
				}
				h, err := app.Registry.Refresh(ctx, id)
				if err != nil {
					return err
				}
				printHost(out, h)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Refresh every host that is not stopped")
	return cmd
}

func newHostsCmd(rt *rootState) *cobra.Command {
	var (
		page   model.Page
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List hosts with their last known state",
		Long: `Lists hosts from storage. States are those recorded by the last
heartbeat or operator action; listing never probes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(ctx context.Context, app *App) error {
				list, err := app.Registry.List(ctx, page)
				if err != nil {
					return err
				}
				return writeHostList(cmd.OutOrStdout(), list, page, asJSON)
			})
		},
	}
	cmd.Flags().IntVar(&page.Page, "page", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&page.PageSize, "page-size", model.DefaultPageSize, "Hosts per page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the page as JSON")
	return cmd
}

func writeHostList(out io.Writer, list model.PageList[model.Host], page model.Page, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tIP\tSTATE\tUPDATED")
	for _, h := range list.Data {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.ID, h.Name, h.IP, stateLabel(h.State), h.UpdatedAt.Local().Format(time.DateTime))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "showing %d of %d (page %d)\n", len(list.Data), list.Total, max(page.Page, 1))
	return nil
}

func newStopCmd(rt *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop the agent on a host",
		Long:  "Stops the agent unit on the host. Stopped hosts are skipped by the heartbeat loop until started again.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args)
			if err != nil {
				return err
			}
			return rt.withApp(cmd, func(ctx context.Context, app *App) error {
				h, err := app.Registry.Stop(ctx, id)
				if err != nil {
					return err
				}
				printHost(cmd.OutOrStdout(), h)
				return nil
			})
		},
	}
}

func newStartCmd(rt *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start the agent on a host and probe it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args)
			if err != nil {
				return err
			}
			return rt.withApp(cmd, func(ctx context.Context, app *App) error {
				h, err := app.Registry.Start(ctx, id)
				if err != nil {
					return err
				}
				printHost(cmd.OutOrStdout(), h)
				return nil
			})
		},
	}
}
