// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	cfg "github.com/toeirei/fleetmaster/internal/config"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("HOME", tmp)
	t.Chdir(tmp)
	return tmp
}

// TestLoadConfig_DefaultsOnly tests that a missing config file is not an error
func TestLoadConfig_DefaultsOnly(t *testing.T) {
	isolate(t)

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := cfg.Default()
	if got != want {
		t.Fatalf("defaults mismatch:\n got %+v\nwant %+v", got, want)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

// TestLoadConfig_EnvVarParsing tests that FLEETMASTER_* environment variables are read
func TestLoadConfig_EnvVarParsing(t *testing.T) {
	isolate(t)
	t.Setenv("FLEETMASTER_DATABASE_TYPE", "postgres")
	t.Setenv("FLEETMASTER_DATABASE_DSN", "postgres://envuser@/envdb")
	t.Setenv("FLEETMASTER_HEARTBEAT_TIMEOUT", "750ms")

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Database.Type != "postgres" {
		t.Fatalf("expected postgres from env, got %q", got.Database.Type)
	}
	if got.Database.DSN != "postgres://envuser@/envdb" {
		t.Fatalf("expected env DSN, got %q", got.Database.DSN)
	}
	if got.Heartbeat.Timeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms timeout, got %s", got.Heartbeat.Timeout)
	}
}

// TestLoadConfig_FlagBindingOverridesEnv tests that CLI flags take precedence over environment variables
func TestLoadConfig_FlagBindingOverridesEnv(t *testing.T) {
	isolate(t)
	t.Setenv("FLEETMASTER_DATABASE_TYPE", "mysql")

	cmd := &cobra.Command{}
	cmd.Flags().String("db-type", "", "database type")
	if err := cmd.Flags().Set("db-type", "badger"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](cmd, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Database.Type != "badger" {
		t.Fatalf("expected badger from flag, got %q", got.Database.Type)
	}
}

// TestLoadConfig_ReadsExplicitFile tests that an explicit file overrides defaults
func TestLoadConfig_ReadsExplicitFile(t *testing.T) {
	tmp := isolate(t)
	path := filepath.Join(tmp, "custom.yaml")
	content := "data_root: /srv/fleet\nagent:\n  port: 19000\nheartbeat:\n  interval: 1m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.DataRoot != "/srv/fleet" || got.Agent.Port != 19000 || got.Heartbeat.Interval != time.Minute {
		t.Fatalf("file values not applied: %+v", got)
	}
	if got.Agent.Binary != "fleetmaster-agent" {
		t.Fatalf("expected default binary to survive, got %q", got.Agent.Binary)
	}
}

// TestLoadConfig_MissingExplicitFile tests that a named but absent file is an error
func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	tmp := isolate(t)
	path := filepath.Join(tmp, "nope.yaml")
	if _, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &path); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

// TestLoadConfig_BrokenConfig_ReturnsParseError tests that invalid yaml surfaces an error
func TestLoadConfig_BrokenConfig_ReturnsParseError(t *testing.T) {
	tmp := isolate(t)
	path := filepath.Join(tmp, "broken.yaml")
	if err := os.WriteFile(path, []byte("agent: [unterminated\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &path); err == nil {
		t.Fatalf("expected parse error")
	}
}

// TestWriteConfigFile_RoundTrip tests that a written file loads back to the same value
func TestWriteConfigFile_RoundTrip(t *testing.T) {
	tmp := isolate(t)
	path := filepath.Join(tmp, "nested", "dir", "fleetmaster.yaml")

	c := cfg.Default()
	c.DataRoot = "/var/lib/fleetmaster"
	c.Database.Type = "badger"
	c.Database.DSN = "/var/lib/fleetmaster/kv"
	if err := cfg.WriteConfigFile(&c, path); err != nil {
		t.Fatalf("WriteConfigFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %o", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "badger") {
		t.Fatalf("expected database type in file, got:\n%s", data)
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got != c {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, c)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*cfg.Config)
		wantErr string
	}{
		{"ok", func(*cfg.Config) {}, ""},
		{"bad db", func(c *cfg.Config) { c.Database.Type = "oracle" }, "database.type"},
		{"bad transport", func(c *cfg.Config) { c.Enroll.Transport = "telnet" }, "enroll.transport"},
		{"node range", func(c *cfg.Config) { c.NodeID = 4096 }, "node_id"},
		{"no port", func(c *cfg.Config) { c.Agent.Port = 0 }, "agent.port"},
		{"zero interval", func(c *cfg.Config) { c.Heartbeat.Interval = 0 }, "heartbeat.interval"},
		{"negative interval", func(c *cfg.Config) { c.Heartbeat.Interval = -time.Second }, "heartbeat.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg.Default()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	tmp := isolate(t)
	p, err := cfg.GetConfigPath(false)
	if err != nil {
		t.Fatalf("GetConfigPath: %v", err)
	}
	if want := filepath.Join(tmp, "fleetmaster", "fleetmaster.yaml"); p != want {
		t.Fatalf("expected %s, got %s", want, p)
	}
}
