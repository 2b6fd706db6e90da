// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/fleetmaster/internal/api"
	"github.com/toeirei/fleetmaster/internal/logging"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(rt *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the controller: heartbeat loop and operator API",
		Long: `Starts the controller. Hosts persisted as running are marked
disconnected until their first heartbeat, stale temporary keys are
removed, and then the heartbeat loop and the operator HTTP API run until
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return rt.withApp(cmd, func(_ context.Context, app *App) error {
				return serve(ctx, app)
			})
		},
	}
	cmd.Flags().String("http-addr", "", "Listen address of the operator API")
	cmd.Flags().Uint16("agent-port", 0, "Port the agents listen on")
	cmd.Flags().String("transport", "", "Enrollment transport (exec or native)")
	cmd.Flags().Duration("interval", 0, "Heartbeat interval")
	return cmd
}

// serve runs until ctx is done or a component fails.
func serve(ctx context.Context, app *App) error {
	cfg := app.Config
	if err := app.Creds.InitDirs(); err != nil {
		return err
	}
	if n, err := app.Creds.CleanupStale(cfg.Enroll.TempKeyMaxAge); err != nil {
		logging.Warnf("temp key cleanup: %v", err)
	} else if n > 0 {
		logging.Infof("removed %d stale temporary key(s)", n)
	}
	if _, err := app.Registry.Reconcile(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(app.Registry, app.Metrics).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Registry.Run(gctx, cfg.Heartbeat.Interval)
	})
	g.Go(func() error {
		logging.Infof("operator API listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	logging.Infof("controller stopped")
	return err
}
