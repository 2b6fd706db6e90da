// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cli implements the fleetmaster command tree and wires the
// controller's components together from a resolved configuration.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/toeirei/fleetmaster/internal/config"
	"github.com/toeirei/fleetmaster/internal/credential"
	"github.com/toeirei/fleetmaster/internal/db"
	"github.com/toeirei/fleetmaster/internal/deploy"
	"github.com/toeirei/fleetmaster/internal/events"
	"github.com/toeirei/fleetmaster/internal/executor"
	"github.com/toeirei/fleetmaster/internal/heartbeat"
	"github.com/toeirei/fleetmaster/internal/idgen"
	"github.com/toeirei/fleetmaster/internal/kvstore"
	"github.com/toeirei/fleetmaster/internal/logging"
	"github.com/toeirei/fleetmaster/internal/metrics"
	"github.com/toeirei/fleetmaster/internal/registry"
)

// repository is a host store the CLI can also maintain and close.
type repository interface {
	registry.Repository
	Maintenance(ctx context.Context) error
	Type() string
	Close() error
}

// openRepository opens the backend named by c.Type.
func openRepository(ctx context.Context, c config.DatabaseConfig) (repository, error) {
	if c.Type == "badger" {
		s, err := kvstore.Open(c.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if c.Type == "sqlite" && c.DSN != ":memory:" && !strings.HasPrefix(c.DSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(c.DSN), 0o755); err != nil {
			return nil, err
		}
	}
	s, err := db.Open(ctx, c)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// App is the fully wired controller.
type App struct {
	Config    config.Config
	Repo      repository
	Creds     *credential.Store
	Pipeline  *deploy.Pipeline
	Heartbeat *heartbeat.Client
	Metrics   *metrics.Metrics
	Events    events.Publisher
	Registry  *registry.Registry
}

// transport returns the credential prober and remote shell dialer for the
// configured enrollment transport.
func transport(cfg config.Config) (credential.Prober, deploy.Dialer) {
	if cfg.Enroll.Transport == "native" {
		return credential.NativeProber{Timeout: cfg.Enroll.ProbeTimeout},
			deploy.NativeDialer{Timeout: cfg.Enroll.ProbeTimeout}
	}
	runner := executor.NewRunner()
	return credential.ExecProber{Exec: runner}, deploy.ExecDialer{Exec: runner}
}

// publisher connects to NATS when configured. A connection failure
// degrades to dropping events.
func publisher(cfg config.EventsConfig) events.Publisher {
	if cfg.NATSURL == "" {
		return events.Nop{}
	}
	p, err := events.NewNATSPublisher(cfg.NATSURL, cfg.Subject)
	if err != nil {
		logging.Warnf("host events disabled: %v", err)
		return events.Nop{}
	}
	return p
}

// NewApp builds every component from cfg. Callers must Close the App.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	repo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s repository: %w", cfg.Database.Type, err)
	}
	ids, err := idgen.NewSnowflake(cfg.NodeID)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	logging.Debugf("id generator node %d", ids.Node())

	prober, dialer := transport(cfg)
	m := metrics.New()
	creds := credential.New(cfg.DataRoot, prober)
	pipeline := deploy.NewPipeline(creds, dialer, deploy.OptionsFromConfig(cfg))
	hb := heartbeat.New(cfg.Agent.Port, cfg.Heartbeat.Timeout, heartbeat.WithMetrics(m))
	pub := publisher(cfg.Events)

	reg := registry.New(repo, pipeline, hb, ids,
		registry.WithPublisher(pub),
		registry.WithMetrics(m),
		registry.WithWorkers(cfg.Heartbeat.Workers),
	)
	return &App{
		Config:    cfg,
		Repo:      repo,
		Creds:     creds,
		Pipeline:  pipeline,
		Heartbeat: hb,
		Metrics:   m,
		Events:    pub,
		Registry:  reg,
	}, nil
}

// Close releases the event connection and the repository.
func (a *App) Close() error {
	return errors.Join(a.Events.Close(), a.Repo.Close())
}
