// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the controller configuration from defaults, a yaml
// file, FLEETMASTER_* environment variables and command-line flags, in that
// order of precedence. The result is a plain Config value that is handed to
// every component's constructor; nothing in the module reads configuration
// from a global.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Fleetmaster")
		default:
			configDir = "/etc/fleetmaster"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "fleetmaster")
	}

	return filepath.Join(configDir, "fleetmaster.yaml"), nil
}

// FlagBindings maps command-line flag names to configuration keys. Flags
// that are not defined on the command are skipped.
var FlagBindings = map[string]string{
	"data-root":  "data_root",
	"node-id":    "node_id",
	"db-type":    "database.type",
	"db-dsn":     "database.dsn",
	"log-level":  "log.level",
	"log-format": "log.format",
	"http-addr":  "http.addr",
	"agent-port": "agent.port",
	"transport":  "enroll.transport",
	"interval":   "heartbeat.interval",
}

// LoadConfig resolves a T from defaults, config file, environment and the
// flags of cmd. additionalConfigFilePath, when non-nil, names an explicit
// file that must exist.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, additionalConfigFilePath *string) (T, error) {
	var c T
	v := viper.New()

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Set up file search paths
	v.SetConfigName("fleetmaster")
	v.SetConfigType("yaml")

	// 3. An explicit --config path has the highest precedence for file-based
	// configuration.
	explicit := additionalConfigFilePath != nil && *additionalConfigFilePath != ""
	if explicit {
		v.SetConfigFile(*additionalConfigFilePath)
	}

	// 4. Standard config locations
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	// 5. Read in the primary config file. A missing file is fine unless it
	// was named explicitly.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	// 6. Environment variables
	v.SetEnvPrefix("fleetmaster")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 7. Flags
	if cmd != nil {
		for name, key := range FlagBindings {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return c, err
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}

	return c, nil
}

// WriteConfigFile marshals c as yaml to path, creating parent directories.
// The file is written 0600 since a DSN may carry credentials.
func WriteConfigFile[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	return os.WriteFile(path, data, 0600)
}
