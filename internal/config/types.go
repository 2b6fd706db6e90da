// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Config is the complete controller configuration.
type Config struct {
	// DataRoot holds ssh/{global,keys,tmp} and bin/.
	DataRoot string `mapstructure:"data_root" yaml:"data_root"`
	// NodeID seeds the id generator. A negative value derives it from the
	// first non-loopback IPv4 address.
	NodeID    int64           `mapstructure:"node_id" yaml:"node_id"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Enroll    EnrollConfig    `mapstructure:"enroll" yaml:"enroll"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat" yaml:"heartbeat"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DatabaseConfig selects the Repository backend. Type is one of sqlite,
// postgres, mysql or badger; for badger the DSN is a directory.
type DatabaseConfig struct {
	Type            string        `mapstructure:"type" yaml:"type"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// AgentConfig describes the agent that enrollment ships to each host.
type AgentConfig struct {
	Port       uint16 `mapstructure:"port" yaml:"port"`
	Binary     string `mapstructure:"binary" yaml:"binary"`
	Unit       string `mapstructure:"unit" yaml:"unit"`
	InstallDir string `mapstructure:"install_dir" yaml:"install_dir"`
	UnitDir    string `mapstructure:"unit_dir" yaml:"unit_dir"`
}

// EnrollConfig tunes the enrollment pipeline. Transport is "exec" (ssh and
// scp binaries) or "native" (in-process ssh and sftp).
type EnrollConfig struct {
	Transport     string        `mapstructure:"transport" yaml:"transport"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	TempKeyMaxAge time.Duration `mapstructure:"temp_key_max_age" yaml:"temp_key_max_age"`
}

// HeartbeatConfig tunes the liveness loop.
type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Workers  int           `mapstructure:"workers" yaml:"workers"`
}

// HTTPConfig configures the operator API listener.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// EventsConfig enables host event publishing when NATSURL is set.
type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url" yaml:"nats_url"`
	Subject string `mapstructure:"subject" yaml:"subject"`
}

// Defaults returns the flat key/value defaults fed to LoadConfig.
func Defaults() map[string]any {
	return map[string]any{
		"data_root":                  "./data",
		"node_id":                    -1,
		"log.level":                  "info",
		"log.format":                 "text",
		"database.type":              "sqlite",
		"database.dsn":               "./data/fleetmaster.db",
		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "5m",
		"agent.port":                 18989,
		"agent.binary":               "fleetmaster-agent",
		"agent.unit":                 "fleetmaster-agent.service",
		"agent.install_dir":          "/usr/local/bin",
		"agent.unit_dir":             "/etc/systemd/system",
		"enroll.transport":           "exec",
		"enroll.probe_timeout":       "5s",
		"enroll.temp_key_max_age":    "24h",
		"heartbeat.interval":         "30s",
		"heartbeat.timeout":          "3s",
		"heartbeat.workers":          16,
		"http.addr":                  ":8080",
		"events.nats_url":            "",
		"events.subject":             "fleetmaster.hosts",
	}
}

// Default returns a Config populated with Defaults.
func Default() Config {
	return Config{
		DataRoot: "./data",
		NodeID:   -1,
		Log:      LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{
			Type:            "sqlite",
			DSN:             "./data/fleetmaster.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Agent: AgentConfig{
			Port:       18989,
			Binary:     "fleetmaster-agent",
			Unit:       "fleetmaster-agent.service",
			InstallDir: "/usr/local/bin",
			UnitDir:    "/etc/systemd/system",
		},
		Enroll: EnrollConfig{
			Transport:     "exec",
			ProbeTimeout:  5 * time.Second,
			TempKeyMaxAge: 24 * time.Hour,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
			Timeout:  3 * time.Second,
			Workers:  16,
		},
		HTTP:   HTTPConfig{Addr: ":8080"},
		Events: EventsConfig{Subject: "fleetmaster.hosts"},
	}
}

// Validate checks the values that would otherwise fail deep inside a
// component.
func (c Config) Validate() error {
	var errs []error
	if c.DataRoot == "" {
		errs = append(errs, errors.New("data_root is required"))
	}
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql", "badger":
	default:
		errs = append(errs, fmt.Errorf("unsupported database.type %q", c.Database.Type))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Agent.Port == 0 {
		errs = append(errs, errors.New("agent.port is required"))
	}
	if c.Agent.Binary == "" || c.Agent.Unit == "" {
		errs = append(errs, errors.New("agent.binary and agent.unit are required"))
	}
	switch c.Enroll.Transport {
	case "exec", "native":
	default:
		errs = append(errs, fmt.Errorf("unsupported enroll.transport %q", c.Enroll.Transport))
	}
	if c.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("node_id %d out of range [0,1023]", c.NodeID))
	}
	if c.Heartbeat.Timeout <= 0 {
		errs = append(errs, errors.New("heartbeat.timeout must be positive"))
	}
	if c.Heartbeat.Interval <= 0 {
		errs = append(errs, errors.New("heartbeat.interval must be positive"))
	}
	return errors.Join(errs...)
}

// AgentBinaryPath is the local copy of the agent shipped to hosts.
func (c Config) AgentBinaryPath() string {
	return filepath.Join(c.DataRoot, "bin", c.Agent.Binary)
}

// AgentUnitPath is the local copy of the agent's systemd unit.
func (c Config) AgentUnitPath() string {
	return filepath.Join(c.DataRoot, "bin", c.Agent.Unit)
}
